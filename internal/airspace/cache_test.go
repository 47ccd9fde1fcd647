package airspace

import (
	"sync"
	"testing"
)

func TestReadCacheGetBeforePublish(t *testing.T) {
	c := NewReadCache()
	if _, ok := c.Get(KeyAircraftList); ok {
		t.Error("Get before any publish reported ok")
	}
}

func TestReadCachePublishBatch(t *testing.T) {
	c := NewReadCache()
	c.Publish(map[string]interface{}{
		KeySFRA: "sfra-payload",
		KeyFRZ:  "frz-payload",
	}, 100)

	for key, want := range map[string]string{KeySFRA: "sfra-payload", KeyFRZ: "frz-payload"} {
		entry, ok := c.Get(key)
		if !ok {
			t.Fatalf("missing %q after publish", key)
		}
		if entry.Payload != want || entry.ComputedAt != 100 {
			t.Errorf("%q = %+v", key, entry)
		}
	}

	// a later tick replaces wholesale
	c.Publish(map[string]interface{}{KeySFRA: "newer"}, 115)
	entry, _ := c.Get(KeySFRA)
	if entry.Payload != "newer" || entry.ComputedAt != 115 {
		t.Errorf("after second publish: %+v", entry)
	}
	// untouched keys keep their version
	entry, _ = c.Get(KeyFRZ)
	if entry.ComputedAt != 100 {
		t.Errorf("unrelated key advanced: %+v", entry)
	}
}

func TestReadCacheConcurrentReaders(t *testing.T) {
	c := NewReadCache()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Get(KeyP56)
			}
		}()
	}
	for i := 0; i < 200; i++ {
		c.Publish(map[string]interface{}{KeyP56: i}, float64(i))
	}
	wg.Wait()
}
