package snapshot

import "fmt"

// DefaultOffloadThreshold 超过该大小（字节）的状态写入对象存储
const DefaultOffloadThreshold = 256 * 1024

// Config 快照管理器配置
type Config struct {
	// OffloadThreshold 状态超过该大小时写入 BlobStore；0 表示使用默认值，负数表示从不卸载
	OffloadThreshold int `yaml:"offload_threshold"`
	// Bucket 对象存储 bucket（由 objstore 使用）
	Bucket string `yaml:"bucket"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{OffloadThreshold: DefaultOffloadThreshold}
}

// Validate 校验并填充默认值
func (c *Config) Validate() error {
	if c.OffloadThreshold == 0 {
		c.OffloadThreshold = DefaultOffloadThreshold
	}
	if c.Bucket != "" && len(c.Bucket) < 3 {
		return fmt.Errorf("snapshot.bucket %q is too short", c.Bucket)
	}
	return nil
}
