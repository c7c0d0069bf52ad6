// Package licensetest holds the behavioural suite every license.Store
// implementation must pass.
package licensetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/license"
)

// base is truncated to whole seconds so every backend round-trips it exactly.
var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises store. newStore must return an empty store for each call.
func Run(t *testing.T, newStore func(t *testing.T) license.Store) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		lic := license.NewLicense(license.HashKey("ABCD-1234"), "acme", base)
		require.NoError(t, store.CreateLicense(ctx, lic))

		got, err := store.GetLicenseByHash(ctx, lic.KeyHash)
		require.NoError(t, err)
		assert.Equal(t, lic.ID, got.ID)
		assert.Equal(t, "acme", got.Label)
		assert.True(t, got.Active)
		assert.Nil(t, got.HWID)
		assert.Nil(t, got.LastSeen)
		assert.True(t, base.Equal(got.CreatedAt))

		_, err = store.GetLicenseByHash(ctx, license.HashKey("missing"))
		assert.ErrorIs(t, err, license.ErrNotFound)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first := license.NewLicense(license.HashKey("DUP-KEY"), "first", base)
		require.NoError(t, store.CreateLicense(ctx, first))

		second := license.NewLicense(first.KeyHash, "second", base.Add(time.Hour))
		assert.ErrorIs(t, store.CreateLicense(ctx, second), license.ErrConflict)

		got, err := store.GetLicenseByHash(ctx, first.KeyHash)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "first", got.Label)
	})

	t.Run("BindIsConditional", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		lic := license.NewLicense(license.HashKey("BIND"), "", base)
		require.NoError(t, store.CreateLicense(ctx, lic))

		ok, err := store.BindLicense(ctx, lic.ID, "hw-1", base.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.BindLicense(ctx, lic.ID, "hw-2", base.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "bound license cannot be rebound")

		got, err := store.GetLicenseByHash(ctx, lic.KeyHash)
		require.NoError(t, err)
		require.NotNil(t, got.HWID)
		assert.Equal(t, "hw-1", *got.HWID)
		require.NotNil(t, got.BoundAt)
		assert.True(t, base.Add(time.Minute).Equal(*got.BoundAt))
		require.NotNil(t, got.LastSeen)
		assert.True(t, base.Add(time.Minute).Equal(*got.LastSeen))
	})

	t.Run("BindRejectsBanned", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		lic := license.NewLicense(license.HashKey("BANNED"), "", base)
		require.NoError(t, store.CreateLicense(ctx, lic))
		require.NoError(t, store.SetLicenseActive(ctx, lic.KeyHash, false, false))

		ok, err := store.BindLicense(ctx, lic.ID, "hw-1", base)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TouchIsMonotonic", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		lic := license.NewLicense(license.HashKey("TOUCH"), "", base)
		require.NoError(t, store.CreateLicense(ctx, lic))
		ok, err := store.BindLicense(ctx, lic.ID, "hw-1", base)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = store.TouchLicense(ctx, lic.ID, "hw-1", base.Add(10*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.TouchLicense(ctx, lic.ID, "hw-1", base.Add(5*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.TouchLicense(ctx, lic.ID, "hw-other", base.Add(20*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "touch from another device must not match")

		got, err := store.GetLicenseByHash(ctx, lic.KeyHash)
		require.NoError(t, err)
		require.NotNil(t, got.LastSeen)
		assert.True(t, base.Add(10*time.Minute).Equal(*got.LastSeen), "last_seen never moves backwards")
	})

	t.Run("BanUnban", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		lic := license.NewLicense(license.HashKey("BAN"), "", base)
		require.NoError(t, store.CreateLicense(ctx, lic))
		ok, err := store.BindLicense(ctx, lic.ID, "hw-1", base)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, store.SetLicenseActive(ctx, lic.KeyHash, false, false))
		got, err := store.GetLicenseByHash(ctx, lic.KeyHash)
		require.NoError(t, err)
		assert.False(t, got.Active)
		require.NotNil(t, got.HWID, "ban keeps the binding")

		ok, err = store.TouchLicense(ctx, lic.ID, "hw-1", base.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "banned license takes no heartbeats")

		require.NoError(t, store.SetLicenseActive(ctx, lic.KeyHash, true, true))
		got, err = store.GetLicenseByHash(ctx, lic.KeyHash)
		require.NoError(t, err)
		assert.True(t, got.Active)
		assert.Nil(t, got.HWID)
		assert.Nil(t, got.BoundAt)
		assert.NotNil(t, got.LastSeen, "unban keeps last_seen")

		err = store.SetLicenseActive(ctx, license.HashKey("missing"), false, false)
		assert.ErrorIs(t, err, license.ErrNotFound)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		lic := license.NewLicense(license.HashKey("DEL"), "", base)
		require.NoError(t, store.CreateLicense(ctx, lic))

		require.NoError(t, store.DeleteLicense(ctx, lic.KeyHash))
		require.NoError(t, store.DeleteLicense(ctx, lic.KeyHash))

		_, err := store.GetLicenseByHash(ctx, lic.KeyHash)
		assert.ErrorIs(t, err, license.ErrNotFound)
	})

	t.Run("ListAndStats", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		older := license.NewLicense(license.HashKey("OLDER"), "", base)
		newer := license.NewLicense(license.HashKey("NEWER"), "", base.Add(time.Hour))
		banned := license.NewLicense(license.HashKey("BANNED"), "", base.Add(2*time.Hour))
		for _, lic := range []*license.License{older, newer, banned} {
			require.NoError(t, store.CreateLicense(ctx, lic))
		}
		require.NoError(t, store.SetLicenseActive(ctx, banned.KeyHash, false, false))

		now := base.Add(3 * time.Hour)
		ok, err := store.BindLicense(ctx, older.ID, "hw-old", now.Add(-10*time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = store.BindLicense(ctx, newer.ID, "hw-new", now.Add(-time.Minute))
		require.NoError(t, err)
		require.True(t, ok)

		list, err := store.ListLicenses(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, banned.ID, list[0].ID, "newest first")
		assert.Equal(t, older.ID, list[2].ID)

		stats, err := store.LicenseStats(ctx, license.OnlineSince(now, license.DefaultPresenceWindow))
		require.NoError(t, err)
		assert.Equal(t, license.Stats{Total: 3, Active: 2, Bound: 2, Online: 1}, *stats)
	})

	t.Run("ConcurrentFirstContact", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		lic := license.NewLicense(license.HashKey("RACE"), "", base)
		require.NoError(t, store.CreateLicense(ctx, lic))

		validator := license.NewValidator(license.ValidatorConfig{
			Store:  store,
			Logger: zerolog.Nop(),
		})

		const devices = 8
		results := make([]license.Status, devices)
		var wg sync.WaitGroup
		for i := 0; i < devices; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				status, err := validator.Validate(ctx, "RACE", "hw-"+string(rune('a'+i)))
				assert.NoError(t, err)
				results[i] = status
			}(i)
		}
		wg.Wait()

		oks := 0
		for _, status := range results {
			switch status {
			case license.StatusOK:
				oks++
			case license.StatusHWIDMismatch:
			default:
				t.Errorf("unexpected status %q", status)
			}
		}
		assert.Equal(t, 1, oks, "exactly one device binds")
	})
}
