package config

import (
	"sync"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"

	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/tools/safe"
)

// StartNacosWatcher loads the config document once and then listens for
// changes, applying each update through Apply. Runs in the background;
// a missing nacos server only logs, the process keeps the defaults.
// The returned stop cancels the listener and releases the goroutine;
// calling it more than once is safe.
func StartNacosWatcher(serverAddr string, serverPort uint64, dataId, group string) (stop func()) {
	stopCh := make(chan struct{})
	var once sync.Once
	stop = func() { once.Do(func() { close(stopCh) }) }

	safe.Go("config-watcher", func() {
		serverConfigs := []constant.ServerConfig{
			*constant.NewServerConfig(serverAddr, serverPort),
		}

		clientConfig := *constant.NewClientConfig(
			constant.WithTimeoutMs(5000),
			constant.WithNamespaceId(""),
			constant.WithNotLoadCacheAtStart(true),
			constant.WithLogLevel("warn"),
		)

		configClient, err := clients.NewConfigClient(vo.NacosClientParam{
			ClientConfig:  &clientConfig,
			ServerConfigs: serverConfigs,
		})
		if err != nil {
			logger.Errorf("[config] nacos client: %v", err)
			return
		}

		content, err := configClient.GetConfig(vo.ConfigParam{
			DataId: dataId,
			Group:  group,
		})
		if err != nil {
			logger.Warnf("[config] initial fetch failed, keeping defaults: %v", err)
		} else if content != "" {
			if err := Apply(content); err != nil {
				logger.Errorf("[config] initial apply: %v", err)
			}
		}

		err = configClient.ListenConfig(vo.ConfigParam{
			DataId: dataId,
			Group:  group,
			OnChange: func(namespace, group, dataId, data string) {
				if err := Apply(data); err != nil {
					logger.Errorf("[config] apply update: %v", err)
				}
			},
		})
		if err != nil {
			logger.Errorf("[config] listen: %v", err)
			return
		}

		<-stopCh
		if err := configClient.CancelListenConfig(vo.ConfigParam{
			DataId: dataId,
			Group:  group,
		}); err != nil {
			logger.Warnf("[config] cancel listen: %v", err)
		}
	})
	return stop
}
