package views

import (
	"context"

	"github.com/bmess/blueocean-plugin/internal/domain"
	"github.com/bmess/blueocean-plugin/internal/fetchcache"
)

// Backend is the REST surface the caches read from.
type Backend interface {
	GetJSON(ctx context.Context, url string, out any) error
	GetText(ctx context.Context, url string) (string, error)
}

// Caches holds one fetch cache per resource shape, each keyed by URL.
type Caches struct {
	Pipelines *fetchcache.Cache[[]domain.Pipeline]
	Runs      *fetchcache.Cache[[]domain.Run]
	Run       *fetchcache.Cache[domain.Run]
	Branches  *fetchcache.Cache[[]domain.Branch]
	Branch    *fetchcache.Cache[domain.Branch]
	Nodes     *fetchcache.Cache[[]domain.Node]
	Steps     *fetchcache.Cache[[]domain.Node]
	Logs      *fetchcache.Cache[string]
}

func NewCaches(b Backend, observer fetchcache.Observer) Caches {
	return Caches{
		Pipelines: fetchcache.New("pipelines", fetchcache.JSON[[]domain.Pipeline](b.GetJSON), observer),
		Runs:      fetchcache.New("runs", fetchcache.JSON[[]domain.Run](b.GetJSON), observer),
		Run:       fetchcache.New("run", fetchcache.JSON[domain.Run](b.GetJSON), observer),
		Branches:  fetchcache.New("branches", fetchcache.JSON[[]domain.Branch](b.GetJSON), observer),
		Branch:    fetchcache.New("branch", fetchcache.JSON[domain.Branch](b.GetJSON), observer),
		Nodes:     fetchcache.New("nodes", fetchcache.JSON[[]domain.Node](b.GetJSON), observer),
		Steps:     fetchcache.New("steps", fetchcache.JSON[[]domain.Node](b.GetJSON), observer),
		Logs:      fetchcache.New("logs", b.GetText, observer),
	}
}
