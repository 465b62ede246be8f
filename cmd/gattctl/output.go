package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/gattkit/pkg/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// writeValue prints one value as hex, or as raw bytes followed by a newline.
func writeValue(w io.Writer, data []byte, asHex bool) error {
	if asHex {
		_, err := fmt.Fprintln(w, hex.EncodeToString(data))
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

var hexSeparators = strings.NewReplacer("0x", "", " ", "", ":", "", "-", "")

// parseValue decodes command line data: hex when asHex (separators and 0x prefixes
// allowed), otherwise the literal bytes.
func parseValue(s string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(s), nil
	}
	data, err := hex.DecodeString(hexSeparators.Replace(strings.ToLower(s)))
	if err != nil {
		return nil, fmt.Errorf("invalid hex data %q: %w", s, err)
	}
	return data, nil
}

// scanEntry is the latest advertisement seen from one device.
type scanEntry struct {
	ad    device.AdvertisingDevice
	count int
}

// advertisementJSON renders one scan entry with a stable key order.
func advertisementJSON(e *scanEntry) *orderedmap.OrderedMap[string, any] {
	ad := e.ad
	m := orderedmap.New[string, any]()
	m.Set("address", ad.Device.ID().String())
	m.Set("name", ad.Data.LocalName)
	if ad.RSSI != nil {
		m.Set("rssi", *ad.RSSI)
	} else {
		m.Set("rssi", nil)
	}
	m.Set("connectable", ad.Data.Connectable)
	m.Set("services", uuidStrings(ad.Data.Services))
	if ad.Data.TxPowerLevel != nil {
		m.Set("tx_power", *ad.Data.TxPowerLevel)
	}

	if len(ad.Data.ManufacturerData) > 0 {
		md := orderedmap.New[string, string]()
		companies := make([]uint16, 0, len(ad.Data.ManufacturerData))
		for id := range ad.Data.ManufacturerData {
			companies = append(companies, id)
		}
		slices.Sort(companies)
		for _, id := range companies {
			md.Set(fmt.Sprintf("0x%04x", id), hex.EncodeToString(ad.Data.ManufacturerData[id]))
		}
		m.Set("manufacturer_data", md)
	}
	if len(ad.Data.ServiceData) > 0 {
		sd := orderedmap.New[string, string]()
		uuids := make([]device.UUID, 0, len(ad.Data.ServiceData))
		for u := range ad.Data.ServiceData {
			uuids = append(uuids, u)
		}
		slices.Sort(uuids)
		for _, u := range uuids {
			sd.Set(u.String(), hex.EncodeToString(ad.Data.ServiceData[u]))
		}
		m.Set("service_data", sd)
	}
	m.Set("advertisements", e.count)
	return m
}

func uuidStrings(uuids []device.UUID) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = u.String()
	}
	return out
}

func displayDevicesJSON(w io.Writer, entries *orderedmap.OrderedMap[device.DeviceID, *scanEntry]) error {
	list := make([]*orderedmap.OrderedMap[string, any], 0, entries.Len())
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, advertisementJSON(pair.Value))
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(list)
}

func displayDevicesTable(w io.Writer, entries *orderedmap.OrderedMap[device.DeviceID, *scanEntry]) error {
	if entries.Len() == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES")
	fmt.Fprintln(tw, "----\t-------\t----\t--------")

	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		ad := pair.Value.ad
		name := ad.Data.LocalName
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(uuidStrings(ad.Data.Services), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		rssi := "n/a"
		if ad.RSSI != nil {
			rssi = fmt.Sprintf("%d dBm", *ad.RSSI)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, ad.Device.ID(), rssi, services)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	// the header is styled after alignment so escape codes do not skew column widths
	header, rows, _ := strings.Cut(buf.String(), "\n")
	_, err := fmt.Fprintf(w, "%s\n%s", color.New(color.Bold).Sprint(header), rows)
	return err
}
