package grounding

import (
	"sync"

	"go.uber.org/zap"
)

// Cache loads a directory once and hands the same result to every caller.
type Cache struct {
	dir    string
	opts   Options
	logger *zap.Logger

	once sync.Once
	res  *Result
	err  error
}

func NewCache(dir string, opts Options, logger *zap.Logger) *Cache {
	return &Cache{dir: dir, opts: opts, logger: logger}
}

func (c *Cache) Get() (*Result, error) {
	c.once.Do(func() {
		c.res, c.err = Load(c.dir, c.opts, c.logger)
	})
	return c.res, c.err
}
