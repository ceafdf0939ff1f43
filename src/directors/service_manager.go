package directors

import (
	"sync"

	"go.uber.org/zap"
)

type ServiceManager struct {
	DictService     *DictService
	DictDataService *DictDataService
	logger          *zap.SugaredLogger
}

var (
	instance *ServiceManager
	once     sync.Once
	mu       sync.RWMutex
)

// GetServiceManager returns the singleton instance of ServiceManager.
func GetServiceManager() *ServiceManager {
	mu.RLock()
	defer mu.RUnlock()

	if instance == nil {
		// Callers reaching here before initialization get an empty
		// instance rather than a nil dereference.
		return &ServiceManager{}
	}
	return instance
}

// InitServiceManager initializes the ServiceManager singleton.
func InitServiceManager(dictService *DictService, dataService *DictDataService, logger *zap.SugaredLogger) *ServiceManager {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()

		instance = &ServiceManager{
			DictService:     dictService,
			DictDataService: dataService,
			logger:          logger,
		}

		if logger != nil {
			logger.Info("ServiceManager singleton initialized")
		}
	})
	return instance
}
