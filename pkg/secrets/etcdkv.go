package secrets

import (
	"context"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
)

const etcdPrefix = "/ctfd-deploy/secrets/"

// EtcdKV stores the secret record in etcd. Used by self-hosted
// deployments that have no cloud secret manager at hand.
type EtcdKV struct {
	cli *clientv3.Client
}

var (
	_ Store  = (*EtcdKV)(nil)
	_ Pinger = (*EtcdKV)(nil)
)

func NewEtcdKV(endpoint, username, password string) (*EtcdKV, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		Username:    username,
		Password:    password,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connecting to etcd")
	}
	return &EtcdKV{cli: cli}, nil
}

func (s *EtcdKV) Get(ctx context.Context, name string) (string, error) {
	resp, err := s.cli.Get(ctx, etcdPrefix+name)
	if err != nil {
		return "", &errs.ErrCredentialUnavailable{Name: name, Sub: err}
	}
	if len(resp.Kvs) == 0 || len(resp.Kvs[0].Value) == 0 {
		return "", &errs.ErrCredentialUnavailable{Name: name, Sub: errors.New("secret has no current value")}
	}
	return string(resp.Kvs[0].Value), nil
}

// Ping reports whether etcd answers a read on the record's key.
func (s *EtcdKV) Ping(ctx context.Context, name string) error {
	if _, err := s.cli.Get(ctx, etcdPrefix+name); err != nil {
		return errors.Wrap(err, "reaching secret store")
	}
	return nil
}

func (s *EtcdKV) Put(ctx context.Context, name, value string) error {
	if _, err := s.cli.Put(ctx, etcdPrefix+name, value); err != nil {
		return errors.Wrap(err, "writing secret value")
	}
	return nil
}

func (s *EtcdKV) Close() error {
	return s.cli.Close()
}
