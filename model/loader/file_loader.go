// FileLoader 从定义文件加载模型，并可监听文件变化重新投递解析结果，
// 使用方在回调里自行决定是否重新注册模型

package loader

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/log"
	"github.com/hatlonely/schemax/model"
	"github.com/hatlonely/schemax/model/decoder"
)

type FileLoaderOptions struct {
	// FilePath 定义文件路径，扩展名决定解码器（json/yaml/yml/toml）
	FilePath string `cfg:"filePath" validate:"required"`

	// Logger 日志配置
	Logger *log.SLogOptions `cfg:"logger"`
}

// Listener 模型定义变化回调
type Listener func(defs []*model.ModelDefinition) error

type FileLoader struct {
	filePath string
	decoder  decoder.Decoder

	done chan struct{}
	wg   sync.WaitGroup

	logger log.Logger
}

func NewFileLoaderWithOptions(options *FileLoaderOptions) (*FileLoader, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := model.ValidateStruct(options); err != nil {
		return nil, errors.WithMessage(err, "invalid options")
	}

	dec, err := decoder.NewDecoderForFile(options.FilePath)
	if err != nil {
		return nil, err
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}

	return &FileLoader{
		filePath: options.FilePath,
		decoder:  dec,
		done:     make(chan struct{}, 1),
		logger:   l.WithGroup("fileLoader").With("filePath", options.FilePath),
	}, nil
}

// Load 读取并解析定义文件
func (l *FileLoader) Load() ([]*model.ModelDefinition, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read definition file %s", l.filePath)
	}

	defs, err := l.decoder.Decode(data)
	if err != nil {
		return nil, err
	}

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "definition file %s", l.filePath)
		}
	}
	return defs, nil
}

// OnChange 先投递一次当前内容，然后监听文件变化并在每次变化后重新投递
func (l *FileLoader) OnChange(listener Listener) error {
	defs, err := l.Load()
	if err != nil {
		return err
	}
	if err := listener(defs); err != nil {
		return errors.WithMessage(err, "listener failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "fsnotify.NewWatcher failed")
	}

	if err := watcher.Add(filepath.Dir(l.filePath)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "watcher.Add failed")
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer watcher.Close()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if event.Name != l.filePath {
					continue
				}

				defs, err := l.Load()
				if err != nil {
					l.logger.Warn("reload failed", "error", err)
					continue
				}
				if err := listener(defs); err != nil {
					l.logger.Warn("listener failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("watcher error", "error", err)
			case <-l.done:
				return
			}
		}
	}()

	return nil
}

func (l *FileLoader) Close() error {
	l.done <- struct{}{}
	l.wg.Wait()
	close(l.done)
	return nil
}
