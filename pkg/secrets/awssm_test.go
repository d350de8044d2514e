package secrets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
	"github.com/ctfer-io/ctfd-deploy/pkg/secrets"
)

type fakeSM struct {
	values         map[string]string
	pendingDeletes map[string]bool

	// getErr simulates a transport failure on reads when set.
	getErr error

	puts, restores int
}

func newFakeSM() *fakeSM {
	return &fakeSM{
		values:         map[string]string{},
		pendingDeletes: map[string]bool{},
	}
}

func (f *fakeSM) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.values[*in.SecretId]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{Message: aws.String("Secrets Manager can't find the specified secret.")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func (f *fakeSM) PutSecretValue(_ context.Context, in *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	if f.pendingDeletes[*in.SecretId] {
		return nil, &smtypes.InvalidRequestException{Message: aws.String("You can't perform this operation on the secret because it was marked for deletion.")}
	}
	f.puts++
	f.values[*in.SecretId] = *in.SecretString
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func (f *fakeSM) RestoreSecret(_ context.Context, in *secretsmanager.RestoreSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.RestoreSecretOutput, error) {
	f.restores++
	delete(f.pendingDeletes, *in.SecretId)
	return &secretsmanager.RestoreSecretOutput{}, nil
}

func TestAWSSMGetMissing(t *testing.T) {
	store := secrets.NewAWSSM(newFakeSM())

	_, err := store.Get(context.Background(), "ctfd/admin-token")
	require.Error(t, err)
	var unavailable *errs.ErrCredentialUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "ctfd/admin-token", unavailable.Name)
}

func TestAWSSMGetEmptyValue(t *testing.T) {
	api := newFakeSM()
	api.values["ctfd/admin-token"] = ""
	store := secrets.NewAWSSM(api)

	_, err := store.Get(context.Background(), "ctfd/admin-token")
	var unavailable *errs.ErrCredentialUnavailable
	require.ErrorAs(t, err, &unavailable)
}

func TestAWSSMGetStoreUnreachable(t *testing.T) {
	api := newFakeSM()
	api.getErr = errors.New("dial tcp 10.0.0.3:443: connect: connection refused")
	store := secrets.NewAWSSM(api)

	_, err := store.Get(context.Background(), "ctfd/admin-token")
	require.Error(t, err)
	var unavailable *errs.ErrCredentialUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "ctfd/admin-token", unavailable.Name)
}

func TestAWSSMPing(t *testing.T) {
	t.Run("missing record is still reachable", func(t *testing.T) {
		store := secrets.NewAWSSM(newFakeSM())
		assert.NoError(t, store.Ping(context.Background(), "ctfd/admin-token"))
	})

	t.Run("transport failure is not", func(t *testing.T) {
		api := newFakeSM()
		api.getErr = errors.New("dial tcp 10.0.0.3:443: connect: connection refused")
		store := secrets.NewAWSSM(api)
		assert.Error(t, store.Ping(context.Background(), "ctfd/admin-token"))
	})
}

func TestAWSSMPutOverwrites(t *testing.T) {
	api := newFakeSM()
	store := secrets.NewAWSSM(api)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ctfd/admin-token", "tok-1"))
	require.NoError(t, store.Put(ctx, "ctfd/admin-token", "tok-2"))

	got, err := store.Get(ctx, "ctfd/admin-token")
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got)
}

func TestAWSSMPutRestoresPendingDeletion(t *testing.T) {
	api := newFakeSM()
	api.pendingDeletes["ctfd/admin-token"] = true
	store := secrets.NewAWSSM(api)

	require.NoError(t, store.Put(context.Background(), "ctfd/admin-token", "tok-1"))
	assert.Equal(t, 1, api.restores)
	assert.Equal(t, "tok-1", api.values["ctfd/admin-token"])
}
