package cache

import (
	"time"

	"github.com/datavision/des/container"
)

// Null always misses; used when caching is disabled (§4.B).
type Null struct{}

func (Null) Get(string) ([]container.IndexEntry, bool)                { return nil, false }
func (Null) Set(string, []container.IndexEntry, time.Duration) {}
func (Null) Delete(string)                                             {}
func (Null) Clear()                                                    {}
