package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/blob"
	"github.com/dgnsrekt/readaloud/internal/config"
	"github.com/dgnsrekt/readaloud/internal/convert"
	"github.com/dgnsrekt/readaloud/internal/governor"
	"github.com/dgnsrekt/readaloud/internal/queue"
	"github.com/dgnsrekt/readaloud/internal/unlock"
)

// audioReadyTimeout bounds how long the output device may take to come up.
const audioReadyTimeout = 3 * time.Second

// app holds the wired components for one command invocation.
type app struct {
	store    *blob.Store
	engine   *queue.Engine
	governor *governor.Governor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// openApp opens the store, restores the queue and starts storage
// governance. Audio output is opened on first playback. Close must be
// called to release everything.
func openApp(ctx context.Context, c config.Config, opts ...queue.Option) (*app, error) {
	store, err := blob.Open(c.DatabasePath(), c.BlobOptions())
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	client, err := convert.NewClient(convert.ClientConfig{
		URL:               c.TTS.URL,
		Timeout:           c.TTS.Timeout,
		RequestsPerMinute: c.TTS.RequestsPerMinute,
		LegacyFields:      c.TTS.LegacyFields,
	})
	if err != nil {
		_ = store.Close()
		return nil, err //nolint:wrapcheck
	}

	gate := unlock.New(func() (audio.Context, error) {
		oc, err := audio.NewOtoContext(audioReadyTimeout)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		return oc, nil
	}, unlock.WithRequired(c.RequireInteraction()))

	opts = append([]queue.Option{queue.WithVolume(c.Playback.Volume)}, opts...)
	engine := queue.New(store, convert.New(client, store), gate, opts...)
	if err := engine.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err //nolint:wrapcheck
	}

	govCfg, err := c.Governor()
	if err != nil {
		_ = engine.Close()
		_ = store.Close()
		return nil, err
	}

	a := &app{
		store:    store,
		engine:   engine,
		governor: governor.New(store, govCfg),
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.governor.Run(runCtx, a.engine)
	}()

	if configFile != "" {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := config.Watch(runCtx, configFile, a.reload); err != nil {
				log.Debug("Config: Not watching configuration file", "error", err)
			}
		}()
	}
	return a, nil
}

// reload applies a changed storage policy without restarting.
func (a *app) reload() {
	v := viper.GetViper()
	if err := v.ReadInConfig(); err != nil {
		log.Warn("Config: Could not reread configuration file", "error", err)
		return
	}
	c, err := config.Load(v)
	if err != nil {
		log.Warn("Config: Ignoring invalid configuration", "error", err)
		return
	}
	govCfg, err := c.Governor()
	if err != nil {
		log.Warn("Config: Ignoring invalid storage policy", "error", err)
		return
	}
	a.governor.SetConfig(govCfg)
	log.Info("Config: Reloaded storage policy", "quota", c.Storage.Quota, "auto_cleanup", govCfg.AutoCleanup)
}

// Close stops playback and background work and closes the store.
func (a *app) Close() error {
	err := a.engine.Close()
	a.cancel()
	a.wg.Wait()
	if cerr := a.store.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return fmt.Errorf("unable to shut down cleanly: %w", err)
	}
	return nil
}
