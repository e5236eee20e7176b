package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/carelinkhq/carecall-voice-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateAndGet(t *testing.T) {
	reg := NewRegistry()

	sess, err := reg.Create("CA123", domain.DirectionInbound, "+15551234567")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 1, reg.Len())

	got, err := reg.Get("CA123")
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = reg.Get("CA999")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistryDuplicateCreate(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Create("CA123", domain.DirectionInbound, "+15551234567")
	require.NoError(t, err)

	_, err = reg.Create("CA123", domain.DirectionInbound, "+15551234567")
	assert.ErrorIs(t, err, domain.ErrDuplicateSession)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryCreateOrAttach(t *testing.T) {
	reg := NewRegistry()

	first, created := reg.CreateOrAttach("CA123", domain.DirectionInbound, "+15551234567")
	assert.True(t, created)

	second, created := reg.CreateOrAttach("CA123", domain.DirectionInbound, "+15551234567")
	assert.False(t, created)
	assert.Same(t, first, second)
}

func TestRegistryConcurrentCreateYieldsOneSession(t *testing.T) {
	reg := NewRegistry()

	const workers = 32
	var wg sync.WaitGroup
	created := make(chan *CallSession, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, _ := reg.CreateOrAttach("CA123", domain.DirectionInbound, "+15551234567")
			created <- sess
		}()
	}
	wg.Wait()
	close(created)

	first := <-created
	for sess := range created {
		assert.Same(t, first, sess, "all goroutines must share one session")
	}
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryGetByPhone(t *testing.T) {
	reg := NewRegistry()

	for i := 0; i < 3; i++ {
		_, err := reg.Create(fmt.Sprintf("CA%d", i), domain.DirectionInbound, "+15550000001")
		require.NoError(t, err)
	}
	other, err := reg.Create("CAX", domain.DirectionOutbound, "+15550000002")
	require.NoError(t, err)

	got, err := reg.GetByPhone("+15550000002")
	require.NoError(t, err)
	assert.Same(t, other, got)

	got, err = reg.GetByPhone("+15550000001")
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", got.PhoneNumber)

	_, err = reg.GetByPhone("+15559999999")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Create("CA123", domain.DirectionInbound, "+15551234567")
	require.NoError(t, err)

	reg.Remove("CA123")
	assert.Equal(t, 0, reg.Len())

	_, err = reg.Get("CA123")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// removing again is a no-op
	reg.Remove("CA123")
}
