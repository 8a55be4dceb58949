package synth

import (
	"github.com/coocood/freecache"
)

// TableCache 表存在性缓存，由 Synthesizer 独占持有，
// 所有会改变物理结构的调用都必须主动失效对应条目，禁止跨组件隐式共享
type TableCache struct {
	cache *freecache.Cache
}

// NewTableCache 创建表存在性缓存，size 为底层缓存字节数
func NewTableCache(size int) *TableCache {
	return &TableCache{
		cache: freecache.NewCache(size),
	}
}

var cacheHit = []byte{1}

// Has 判断表是否已确认存在
func (c *TableCache) Has(table string) bool {
	_, err := c.cache.Get([]byte(table))
	return err == nil
}

// Mark 记录表已存在
func (c *TableCache) Mark(table string) {
	// 不设置过期时间，条目只通过 Invalidate 失效
	_ = c.cache.Set([]byte(table), cacheHit, 0)
}

// Invalidate 使单个表的缓存条目失效
func (c *TableCache) Invalidate(table string) {
	c.cache.Del([]byte(table))
}

// Reset 清空全部条目
func (c *TableCache) Reset() {
	c.cache.Clear()
}
