package route

import (
	"sort"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts a plugin's routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// Plugin pairs a route loader with an order so mounts are deterministic.
type Plugin struct {
	Order  int
	Loader RouterLoader
}

var registered []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	registered = append(registered, p)
	sort.SliceStable(registered, func(i, j int) bool { return registered[i].Order < registered[j].Order })
}

// Loaders returns all registered route loaders in mount order.
func Loaders() []RouterLoader {
	loaders := make([]RouterLoader, len(registered))
	for i, p := range registered {
		loaders[i] = p.Loader
	}
	return loaders
}
