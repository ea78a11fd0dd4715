package service

import (
	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/mq"
	"github.com/dkrasov/fieldmark/store"
	"github.com/dkrasov/fieldmark/worker"
	"golang.org/x/oauth2"
)

type Service struct {
	Store          store.FieldmarkStore
	Cache          cache.FieldmarkCache
	MQ             mq.MessageQueue
	CounterBatcher *worker.CounterBatcher
	OAuthConfigs   map[string]*oauth2.Config
	JWTSecret      []byte
}

func NewService(
	store store.FieldmarkStore,
	cache cache.FieldmarkCache,
	mq mq.MessageQueue,
	counterBatcher *worker.CounterBatcher,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
) (*Service, error) {
	oauthConfigs, err := addOauthEndpointsAndScopes(oauthConfigs)
	if err != nil {
		return nil, err
	}

	return &Service{
		Store:          store,
		Cache:          cache,
		MQ:             mq,
		CounterBatcher: counterBatcher,
		OAuthConfigs:   oauthConfigs,
		JWTSecret:      jwtSecret,
	}, nil
}
