// internal/di/container.go
package di

import (
	"sync"
)

// Container 按名称持有共享服务实例。
// 注册发生在启动阶段，运行期只读。
type Container struct {
	mutex    sync.RWMutex
	services map[string]interface{}
}

var (
	globalContainer *Container
	once            sync.Once
)

// GetContainer 返回全局容器单例
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = &Container{
			services: make(map[string]interface{}),
		}
	})
	return globalContainer
}

// Register 注册服务实例，同名覆盖
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.services[name] = service
}

// Get 返回已注册的服务实例，未注册时返回nil。
// 调用方负责类型断言。
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.services[name]
}

// Has 检查服务是否已注册
func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, exists := c.services[name]
	return exists
}
