// Package storetest holds the contract every devicepair.Storer must satisfy.
package storetest

import (
	"context"
	"testing"

	"github.com/gammatimetable/devicepair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StorerContract runs the shared Storer tests against fresh stores from NewStore.
type StorerContract struct {
	NewStore func(t *testing.T) devicepair.Storer
}

func (c StorerContract) Test(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T, store devicepair.Storer)
	}{
		{
			name: "load_missing_returns_not_found",
			test: func(t *testing.T, store devicepair.Storer) {
				_, err := store.Load(context.Background(), "missing")
				assert.ErrorIs(t, err, devicepair.ErrKeyNotFound)
			},
		},
		{
			name: "save_then_load",
			test: func(t *testing.T, store devicepair.Storer) {
				ctx := context.Background()
				require.NoError(t, store.Save(ctx, devicepair.KeyDeviceToken, []byte(`{"token":"abc"}`)))

				got, err := store.Load(ctx, devicepair.KeyDeviceToken)
				require.NoError(t, err)
				assert.JSONEq(t, `{"token":"abc"}`, string(got))
			},
		},
		{
			name: "save_overwrites",
			test: func(t *testing.T, store devicepair.Storer) {
				ctx := context.Background()
				require.NoError(t, store.Save(ctx, devicepair.KeyDeviceInfo, []byte(`{"code":"one"}`)))
				require.NoError(t, store.Save(ctx, devicepair.KeyDeviceInfo, []byte(`{"code":"two"}`)))

				got, err := store.Load(ctx, devicepair.KeyDeviceInfo)
				require.NoError(t, err)
				assert.JSONEq(t, `{"code":"two"}`, string(got))
			},
		},
		{
			name: "keys_are_independent",
			test: func(t *testing.T, store devicepair.Storer) {
				ctx := context.Background()
				require.NoError(t, store.Save(ctx, devicepair.KeyDeviceInfo, []byte(`{"code":"c"}`)))
				require.NoError(t, store.Save(ctx, devicepair.KeyDeviceToken, []byte(`{"token":"t"}`)))
				require.NoError(t, store.Delete(ctx, devicepair.KeyDeviceToken))

				_, err := store.Load(ctx, devicepair.KeyDeviceToken)
				assert.ErrorIs(t, err, devicepair.ErrKeyNotFound)
				got, err := store.Load(ctx, devicepair.KeyDeviceInfo)
				require.NoError(t, err)
				assert.JSONEq(t, `{"code":"c"}`, string(got))
			},
		},
		{
			name: "delete_missing_is_noop",
			test: func(t *testing.T, store devicepair.Storer) {
				assert.NoError(t, store.Delete(context.Background(), "missing"))
			},
		},
		{
			name: "returned_value_is_a_copy",
			test: func(t *testing.T, store devicepair.Storer) {
				ctx := context.Background()
				value := []byte(`{"token":"abc"}`)
				require.NoError(t, store.Save(ctx, devicepair.KeyDeviceToken, value))
				value[2] = 'X'

				got, err := store.Load(ctx, devicepair.KeyDeviceToken)
				require.NoError(t, err)
				assert.JSONEq(t, `{"token":"abc"}`, string(got))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.test(t, c.NewStore(t))
		})
	}
}
