package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
)

// smAPI is the slice of the Secrets Manager client the store uses.
type smAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	RestoreSecret(ctx context.Context, in *secretsmanager.RestoreSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.RestoreSecretOutput, error)
}

// AWSSM stores the secret record in AWS Secrets Manager.
type AWSSM struct {
	api smAPI
}

var (
	_ Store  = (*AWSSM)(nil)
	_ Pinger = (*AWSSM)(nil)
)

func NewAWSSM(api smAPI) *AWSSM {
	return &AWSSM{api: api}
}

func (s *AWSSM) Get(ctx context.Context, name string) (string, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		// Missing record and unreachable store read the same from the
		// caller's side: no usable credential right now.
		return "", &errs.ErrCredentialUnavailable{Name: name, Sub: err}
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", &errs.ErrCredentialUnavailable{Name: name, Sub: errors.New("secret has no current value")}
	}
	return *out.SecretString, nil
}

// Ping reports whether Secrets Manager answers at all. A service
// refusal (record missing, access denied) still means the store is
// reachable; only transport-level failures count as down.
func (s *AWSSM) Ping(ctx context.Context, name string) error {
	_, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err == nil {
		return nil
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return nil
	}
	return errors.Wrap(err, "reaching secret store")
}

func (s *AWSSM) Put(ctx context.Context, name, value string) error {
	_, err := s.api.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err == nil {
		return nil
	}

	// A record left pending deletion by a previous deployment blocks
	// writes under the same name until it is restored.
	if !isPendingDeletion(err) {
		return errors.Wrap(err, "writing secret value")
	}
	if _, rerr := s.api.RestoreSecret(ctx, &secretsmanager.RestoreSecretInput{
		SecretId: aws.String(name),
	}); rerr != nil {
		return errors.Wrap(rerr, "restoring secret pending deletion")
	}
	if _, err := s.api.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	}); err != nil {
		return errors.Wrap(err, "writing secret value after restore")
	}
	return nil
}

func isPendingDeletion(err error) bool {
	var inv *smtypes.InvalidRequestException
	return errors.As(err, &inv) && strings.Contains(strings.ToLower(err.Error()), "deletion")
}
