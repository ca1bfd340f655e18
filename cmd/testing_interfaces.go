package main

import (
	"context"
	"net/http"

	"github.com/l0p7/feedstack/internal/config"
)

// configLoader is the slice of config.Loader that run depends on.
type configLoader interface {
	Load(ctx context.Context) (config.Config, error)
	Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error)
}

type configWatcher interface {
	Stop()
}

type runnableServer interface {
	Run(ctx context.Context) error
}

// httpDoer represents the minimal client contract used by integration helpers.
type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// fileLoader adapts config.Loader so Watch returns the interface type.
type fileLoader struct {
	*config.Loader
}

func (l fileLoader) Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	w, err := l.Loader.Watch(ctx, onChange, onError)
	if err != nil {
		return nil, err
	}
	return w, nil
}
