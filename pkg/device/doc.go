// Package device is a platform-independent BLE GATT client.
//
// A Session opens one registered Backend (go-ble, BlueZ) and vends Adapter handles. From
// there the package provides:
//   - Adapter availability events, connected-device enumeration, scanning and discovery
//   - Device connection lifecycle and lazily cached service discovery
//   - Characteristic and descriptor read/write over a shared value cache
//   - Notification subscriptions multiplexed over one peer-side toggle per characteristic
//   - A single error taxonomy (NotConnected, NotReady, NotSupported, ServiceChanged,
//     Internal) with native failures passed through as *BackendError
//
// Every live sequence is a *Stream. Producers start on first pull and are torn down
// exactly once when the stream is closed, its context ends or the consumer stops ranging
// over All.
//
// Backends register themselves from init:
//
//	import _ "github.com/srg/gattkit/pkg/device/bluez"
//
//	adapter, err := device.DefaultAdapter(ctx)
package device
