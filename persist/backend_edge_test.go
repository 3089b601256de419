package persist

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Edge cases and concurrency behaviour shared by all backends. The basic
// contract is covered by testBackendImplementation; these focus on the
// first-writer-wins guarantee under contention and on unusual payloads.
func TestFileSystemBackendEdgeCases(t *testing.T) {
	newBackend := func(t *testing.T) KeyBackend {
		backend, err := NewFileSystemBackend(t.TempDir())
		require.NoError(t, err, "NewFileSystemBackend should succeed")
		t.Cleanup(func() { backend.Close() })
		return backend
	}

	t.Run("EmptyKeyData", func(t *testing.T) {
		backend := newBackend(t)

		err := backend.SaveKey("com.example.empty", []byte{})
		require.NoError(t, err, "Should handle empty key data")

		loaded, err := backend.LoadKey("com.example.empty")
		require.NoError(t, err)
		assert.Len(t, loaded, 0, "Data should be empty")
	})

	t.Run("LargeKeyData", func(t *testing.T) {
		backend := newBackend(t)

		// Wrapped key blobs are small in practice but the backend should not
		// care about size (1MB)
		largeData := make([]byte, 1024*1024)
		for i := range largeData {
			largeData[i] = byte(i % 256)
		}

		err := backend.SaveKey("com.example.large", largeData)
		require.NoError(t, err, "Should handle large data")

		loaded, err := backend.LoadKey("com.example.large")
		require.NoError(t, err)
		assert.Equal(t, largeData, loaded, "Large data should match")
	})

	t.Run("SaltOverwrite", func(t *testing.T) {
		backend := newBackend(t)

		require.NoError(t, backend.SaveSalt([]byte("first-salt-value")))
		require.NoError(t, backend.SaveSalt([]byte("second-salt-value")),
			"Salt saves are last-writer-wins, unlike key saves")

		loaded, err := backend.LoadSalt()
		require.NoError(t, err)
		assert.Equal(t, []byte("second-salt-value"), loaded)
	})

	t.Run("ConcurrentExclusiveCreate", func(t *testing.T) {
		backend := newBackend(t)

		const numWriters = 10
		var wg sync.WaitGroup
		results := make(chan error, numWriters)

		for i := 0; i < numWriters; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				data := []byte(fmt.Sprintf("wrapped-key-from-writer-%d", id))
				results <- backend.SaveKey("com.example.race", data)
			}(i)
		}

		wg.Wait()
		close(results)

		var succeeded, lost int
		for err := range results {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, ErrKeyExists,
					"Losing writers should see ErrKeyExists")
				lost++
			}
		}
		assert.Equal(t, 1, succeeded, "Exactly one writer should win the race")
		assert.Equal(t, numWriters-1, lost, "All other writers should lose")

		// The winner's data survived intact
		loaded, err := backend.LoadKey("com.example.race")
		require.NoError(t, err)
		assert.Contains(t, string(loaded), "wrapped-key-from-writer-",
			"Stored data should be one complete writer payload")
	})

	t.Run("ConcurrentMixedOperations", func(t *testing.T) {
		backend := newBackend(t)

		require.NoError(t, backend.SaveKey("com.example.mixed", []byte("seed")))
		require.NoError(t, backend.SaveSalt([]byte("seed-salt")))

		var wg sync.WaitGroup
		errors := make(chan error, 40)

		for i := 0; i < 10; i++ {
			wg.Add(4)
			go func() {
				defer wg.Done()
				if _, err := backend.LoadKey("com.example.mixed"); err != nil {
					errors <- err
				}
			}()
			go func() {
				defer wg.Done()
				if _, err := backend.KeyExists("com.example.mixed"); err != nil {
					errors <- err
				}
			}()
			go func() {
				defer wg.Done()
				if _, err := backend.LoadSalt(); err != nil {
					errors <- err
				}
			}()
			go func(id int) {
				defer wg.Done()
				identity := fmt.Sprintf("com.example.other-%d", id)
				if err := backend.SaveKey(identity, []byte("x")); err != nil {
					errors <- err
				}
			}(i)
		}

		wg.Wait()
		close(errors)

		var errorList []error
		for err := range errors {
			errorList = append(errorList, err)
		}
		require.Empty(t, errorList, "Concurrent operations should not fail: %v", errorList)
	})

	t.Run("DeleteThenRecreate", func(t *testing.T) {
		backend := newBackend(t)

		require.NoError(t, backend.SaveKey("com.example.cycle", []byte("v1")))

		removed, err := backend.DeleteKey("com.example.cycle")
		require.NoError(t, err)
		assert.True(t, removed)

		// Deletion frees the slot for a fresh exclusive create
		require.NoError(t, backend.SaveKey("com.example.cycle", []byte("v2")))

		loaded, err := backend.LoadKey("com.example.cycle")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), loaded)
	})
}
