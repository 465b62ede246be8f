//go:build test

package main

import (
	"testing"

	"github.com/srg/gattkit/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ScanCommandTestSuite struct {
	CommandTestSuite
}

func (s *ScanCommandTestSuite) SetupTest() {
	s.WithRadio().
		WithScanAdvertisements().
		WithNewAdvertisement(func(b *testutils.AdvertisementBuilder) {
			b.WithAddress("11:22:33:44:55:66").
				WithName("HRM").
				WithRSSI(-60).
				WithServices("180D").
				WithManufacturerData(0x004c, []byte{0x02, 0x15})
		}).
		WithNewAdvertisement(func(b *testutils.AdvertisementBuilder) {
			b.WithAddress("22:33:44:55:66:77").
				WithRSSI(-80).
				WithTxPower(4).
				WithConnectable(false).
				WithServices("180F").
				WithServiceData("180F", []byte{0x64})
		}).
		WithNewAdvertisement(func(b *testutils.AdvertisementBuilder) {
			b.WithAddress("11:22:33:44:55:66").
				WithName("HRM").
				WithRSSI(-55).
				WithServices("180D")
		}).
		Build()

	s.CommandTestSuite.SetupTest()
}

func (s *ScanCommandTestSuite) TestScanJSON() {
	// GOAL: Verify scan output lists each advertiser once with its latest advertisement
	//
	// TEST SCENARIO: Three advertisements from two devices → JSON output → two entries in first-seen order

	stdout, _, err := s.ExecuteCommand("scan", "--duration", "200ms", "--format", "json")
	s.Require().NoError(err, "scan MUST succeed")

	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[
		{
			"address": "11:22:33:44:55:66",
			"name": "HRM",
			"rssi": -55,
			"connectable": true,
			"services": ["180d"],
			"advertisements": 2
		},
		{
			"address": "22:33:44:55:66:77",
			"name": "",
			"rssi": -80,
			"connectable": false,
			"tx_power": 4,
			"services": ["180f"],
			"service_data": {"180f": "64"},
			"advertisements": 1
		}
	]`)
}

func (s *ScanCommandTestSuite) TestScanServiceFilter() {
	s.Run("filters by advertised service", func() {
		// GOAL: Verify --services keeps only matching advertisers
		//
		// TEST SCENARIO: Filter on 180F → JSON output → only the battery advertiser is listed

		stdout, _, err := s.ExecuteCommand("scan", "-d", "200ms", "-f", "json", "-s", "180f")
		s.Require().NoError(err, "scan MUST succeed")
		testutils.NewJSONAsserter(s.T()).Assert(stdout, `[{"address": "22:33:44:55:66:77"}]`)
	})

	s.Run("rejects malformed service UUIDs", func() {
		_, _, err := s.ExecuteCommand("scan", "-s", "xyz")
		s.Require().Error(err, "MUST reject malformed UUID")
		s.Contains(err.Error(), "invalid service UUID")
	})
}

func (s *ScanCommandTestSuite) TestScanTable() {
	// GOAL: Verify the table output format
	//
	// TEST SCENARIO: Scan with table format → header, separator row and one aligned row per device

	stdout, _, err := s.ExecuteCommand("scan", "-d", "200ms", "-f", "table")
	s.Require().NoError(err, "scan MUST succeed")

	testutils.NewTextAsserter(s.T()).
		WithOptions(testutils.WithTrimSpace(true), testutils.WithIgnoreTrailingWhitespace(true)).
		Assert(stdout, `
NAME       ADDRESS            RSSI     SERVICES
----       -------            ----     --------
HRM        11:22:33:44:55:66  -55 dBm  180d
(unknown)  22:33:44:55:66:77  -80 dBm  180f
`)
}

func (s *ScanCommandTestSuite) TestScanInvalidFormat() {
	_, _, err := s.ExecuteCommand("scan", "--format", "xml")
	s.Require().Error(err, "MUST reject unknown formats")
	s.Contains(err.Error(), "invalid format 'xml'")
}

func TestScanCommandTestSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandTestSuite))
}
