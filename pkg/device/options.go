package device

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Options tunes a Session. Zero fields take the defaults from the struct tags.
type Options struct {
	// Backend selects a registered backend by name; empty tries them in priority order.
	Backend string
	// AdapterName selects a radio on backends that have several (BlueZ "hci0").
	AdapterName string
	Logger      *logrus.Logger

	// NotifyBuffer bounds each notification subscriber; the oldest value is dropped on
	// overflow.
	NotifyBuffer int `default:"16"`
	// ScanBuffer bounds advertisements waiting for a slow scan consumer.
	ScanBuffer int `default:"256"`
	// EventBuffer bounds adapter and peer events per subscriber.
	EventBuffer int `default:"64"`
	// DeviceCacheSize bounds the number of interned Device handles per adapter. Devices
	// with discovered services are kept regardless.
	DeviceCacheSize int `default:"256"`
	// DisableTimeout bounds the best-effort CCCD disable on last unsubscribe.
	DisableTimeout time.Duration `default:"5s"`
}

func (o Options) withDefaults() Options {
	defaults.SetDefaults(&o)
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}
