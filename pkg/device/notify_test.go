//go:build test

package device_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/gattkit/pkg/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// NotifyTestSuite tests the subscription state machine shared by notification streams
type NotifyTestSuite struct {
	profileSuite
}

func (suite *NotifyTestSuite) next(stream *device.Stream[[]byte]) []byte {
	v, err := stream.Next(suite.Context())
	suite.Require().NoError(err, "MUST receive a notification")
	return v
}

func (suite *NotifyTestSuite) TestNotSupported() {
	// GOAL: Verify Notify on a characteristic without notify or indicate fails without I/O
	//
	// TEST SCENARIO: Notify on read-only characteristic → NotSupported → zero backend calls

	c, pc := suite.char("FFE0", "FFE3")
	pc.Mock.Calls = nil

	stream, err := c.Notify(suite.Context())
	suite.Nil(stream)
	suite.ErrorIs(err, device.ErrNotSupported)
	suite.Empty(pc.Mock.Calls, "backend MUST NOT be touched")
	suite.Equal(device.NotifyIdle, c.NotifyState())
}

func (suite *NotifyTestSuite) TestSubscribeThenClose() {
	// GOAL: Verify one subscription produces exactly one enable and one disable
	//
	// TEST SCENARIO: Notify → state Active → Close without reading → state Idle → one EnableNotify, one DisableNotify

	c, pc := suite.char("180F", "2A19")

	stream, err := c.Notify(suite.Context())
	suite.Require().NoError(err)
	suite.Equal(device.NotifyActive, c.NotifyState())
	suite.True(pc.Notifying(), "peer toggle MUST be on after Notify returns")
	suite.False(pc.Indicate(), "Notify MUST be preferred over Indicate")

	stream.Close()
	stream.Close()

	suite.Equal(device.NotifyIdle, c.NotifyState())
	suite.False(pc.Notifying(), "peer toggle MUST be off after Close")
	pc.Mock.AssertNumberOfCalls(suite.T(), "EnableNotify", 1)
	pc.Mock.AssertNumberOfCalls(suite.T(), "DisableNotify", 1)
	suite.Equal(0, c.Subscribers())
}

func (suite *NotifyTestSuite) TestDelivery() {
	suite.Run("values reach the stream and the cache", func() {
		// GOAL: Verify notifications are delivered in order and refresh the cached value
		//
		// TEST SCENARIO: Notify → peer sends [1], [2] → stream yields [1], [2] → Value is [2]

		c, pc := suite.char("180F", "2A19")
		stream, err := c.Notify(suite.Context())
		suite.Require().NoError(err)
		defer stream.Close()

		suite.True(pc.Notify([]byte{1}))
		suite.True(pc.Notify([]byte{2}))
		suite.Equal([]byte{1}, suite.next(stream))
		suite.Equal([]byte{2}, suite.next(stream))

		v, err := c.Value()
		suite.Require().NoError(err)
		suite.Equal([]byte{2}, v, "notification MUST refresh the cache")
	})

	suite.Run("slow consumer loses the oldest values", func() {
		// GOAL: Verify overflow drops the oldest notifications and counts them
		//
		// TEST SCENARIO: 20 notifications into a 16-slot buffer before reading → first value read is 4 → Dropped is 4

		c, pc := suite.char("180F", "2A19")
		stream, err := c.Notify(suite.Context())
		suite.Require().NoError(err)
		defer stream.Close()

		for i := 0; i < 20; i++ {
			pc.Notify([]byte{byte(i)})
		}
		suite.Equal([]byte{4}, suite.next(stream), "oldest values MUST be dropped")
		suite.Equal(int64(4), stream.Dropped())
		suite.Equal([]byte{5}, suite.next(stream))
	})

	suite.Run("indicate-only characteristic", func() {
		// GOAL: Verify indications are used when notify is unavailable
		//
		// TEST SCENARIO: Notify on indicate-only → EnableNotify with indicate=true

		c, pc := suite.char("FFE0", "FFE4")
		stream, err := c.Notify(suite.Context())
		suite.Require().NoError(err)
		defer stream.Close()

		suite.True(pc.Indicate())
		pc.Mock.AssertCalled(suite.T(), "EnableNotify", mock.Anything, true, mock.Anything)
	})

	suite.Run("both kinds prefer notify", func() {
		// GOAL: Verify Notify is chosen when a characteristic supports both
		//
		// TEST SCENARIO: Notify on notify+indicate → EnableNotify with indicate=false

		c, pc := suite.char("FFE0", "FFE5")
		stream, err := c.Notify(suite.Context())
		suite.Require().NoError(err)
		defer stream.Close()

		suite.False(pc.Indicate())
	})
}

func (suite *NotifyTestSuite) TestReadDuringNotifications() {
	// GOAL: Verify Read returns the bytes it read even while notifications refresh the cache
	//
	// TEST SCENARIO: Subscribe to FFE5 → flood notifications of [9] → every Read returns the peer value [7]

	c, pc := suite.char("FFE0", "FFE5")
	stream, err := c.Notify(suite.Context())
	suite.Require().NoError(err)
	defer stream.Close()

	stop := make(chan struct{})
	flooded := make(chan struct{})
	go func() {
		defer close(flooded)
		for {
			select {
			case <-stop:
				return
			default:
				pc.Push([]byte{9})
			}
		}
	}()

	for i := 0; i < 200; i++ {
		v, err := c.Read(suite.Context())
		suite.Require().NoError(err)
		suite.Require().Equal([]byte{7}, v, "read %d MUST return the value read from the peer", i)
	}
	close(stop)
	<-flooded
}

func (suite *NotifyTestSuite) TestMultipleSubscribers() {
	// GOAL: Verify subscribers share one peer toggle and each gets every value
	//
	// TEST SCENARIO: Two streams → one enable → both receive [7] → close first → still enabled → close second → one disable

	c, pc := suite.char("180F", "2A19")

	first, err := c.Notify(suite.Context())
	suite.Require().NoError(err)
	second, err := c.Notify(suite.Context())
	suite.Require().NoError(err)
	suite.Equal(2, c.Subscribers())
	pc.Mock.AssertNumberOfCalls(suite.T(), "EnableNotify", 1)

	suite.True(pc.Notify([]byte{7}))
	suite.Equal([]byte{7}, suite.next(first))
	suite.Equal([]byte{7}, suite.next(second))

	first.Close()
	suite.Equal(device.NotifyActive, c.NotifyState(), "remaining subscriber MUST keep notifications on")
	pc.Mock.AssertNotCalled(suite.T(), "DisableNotify", mock.Anything)

	suite.True(pc.Notify([]byte{8}))
	suite.Equal([]byte{8}, suite.next(second))

	second.Close()
	suite.Equal(device.NotifyIdle, c.NotifyState())
	pc.Mock.AssertNumberOfCalls(suite.T(), "EnableNotify", 1)
	pc.Mock.AssertNumberOfCalls(suite.T(), "DisableNotify", 1)
}

func (suite *NotifyTestSuite) TestConcurrentSubscribers() {
	// GOAL: Verify concurrent Notify calls never enable twice
	//
	// TEST SCENARIO: 8 goroutines subscribe at once → one EnableNotify → all closed → one DisableNotify

	c, pc := suite.char("180F", "2A19")

	const n = 8
	streams := make([]*device.Stream[[]byte], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Notify(suite.Context())
			if err == nil {
				streams[i] = s
			}
		}(i)
	}
	wg.Wait()

	for i, s := range streams {
		suite.Require().NotNil(s, "subscriber %d MUST succeed", i)
	}
	pc.Mock.AssertNumberOfCalls(suite.T(), "EnableNotify", 1)

	for _, s := range streams {
		s.Close()
	}
	pc.Mock.AssertNumberOfCalls(suite.T(), "DisableNotify", 1)
}

func (suite *NotifyTestSuite) TestTeardownPaths() {
	suite.Run("context cancel", func() {
		// GOAL: Verify cancelling the subscription context disables notifications
		//
		// TEST SCENARIO: Notify(ctx) → cancel → stream ends with context.Canceled → DisableNotify once

		c, pc := suite.char("180F", "2A19")
		ctx, cancel := context.WithCancel(suite.Context())
		stream, err := c.Notify(ctx)
		suite.Require().NoError(err)

		cancel()
		select {
		case <-stream.Done():
		case <-time.After(time.Second):
			suite.Fail("stream MUST end when its context is cancelled")
		}
		suite.ErrorIs(stream.Err(), context.Canceled)
		pc.Mock.AssertNumberOfCalls(suite.T(), "DisableNotify", 1)
		suite.Equal(device.NotifyIdle, c.NotifyState())
	})

	suite.Run("breaking out of All", func() {
		// GOAL: Verify leaving a range loop tears the subscription down
		//
		// TEST SCENARIO: Range over All → break after first value → DisableNotify called again

		c, pc := suite.char("180F", "2A19")
		stream, err := c.Notify(suite.Context())
		suite.Require().NoError(err)

		suite.True(pc.Notify([]byte{1}))
		for v, err := range stream.All(suite.Context()) {
			suite.Require().NoError(err)
			suite.Equal([]byte{1}, v)
			break
		}
		<-stream.Done()
		pc.Mock.AssertNumberOfCalls(suite.T(), "DisableNotify", 2)
	})
}

func (suite *NotifyTestSuite) TestDisconnectEndsStream() {
	// GOAL: Verify a disconnect ends notification streams with NotConnected without a CCCD write
	//
	// TEST SCENARIO: Notify → peer disconnects → Next returns NotConnected → DisableNotify skipped → state Idle

	c, pc := suite.char("180F", "2A19")
	stream, err := c.Notify(suite.Context())
	suite.Require().NoError(err)

	suite.peripheral.SetConnected(false)

	_, err = stream.Next(suite.Context())
	suite.ErrorIs(err, device.ErrNotConnected)
	suite.ErrorIs(stream.Err(), device.ErrNotConnected)
	pc.Mock.AssertNotCalled(suite.T(), "DisableNotify", mock.Anything)
	suite.Equal(device.NotifyIdle, c.NotifyState())

	_, err = c.Notify(suite.Context())
	suite.ErrorIs(err, device.ErrNotConnected, "subscribing while disconnected MUST fail")
	suite.Equal(device.NotifyIdle, c.NotifyState(), "failed enable MUST return to Idle")
}

func (suite *NotifyTestSuite) TestServiceChangeEndsStream() {
	// GOAL: Verify a service change covering the characteristic ends its streams
	//
	// TEST SCENARIO: Notify → change all services → Next returns ServiceChanged

	c, _ := suite.char("180F", "2A19")
	stream, err := c.Notify(suite.Context())
	suite.Require().NoError(err)
	defer stream.Close()

	suite.peripheral.ChangeServices()

	_, err = stream.Next(suite.Context())
	suite.ErrorIs(err, device.ErrServiceChanged)
	suite.False(c.Service().IsValid())
}

func (suite *NotifyTestSuite) TestEnableFailure() {
	// GOAL: Verify a failed enable leaves no subscriber behind and surfaces the native error
	//
	// TEST SCENARIO: EnableNotify fails → error returned → state Idle → retry succeeds once fixed

	c, pc := suite.char("180F", "2A19")
	cccdErr := errors.New("att: write not permitted")
	pc.FailEnable(cccdErr)

	_, err := c.Notify(suite.Context())
	suite.ErrorIs(err, cccdErr)
	suite.Equal(device.NotifyIdle, c.NotifyState())
	suite.Equal(0, c.Subscribers())

	pc.FailEnable(nil)
	stream, err := c.Notify(suite.Context())
	suite.Require().NoError(err)
	stream.Close()
}

func (suite *NotifyTestSuite) TestPeerClearedToggle() {
	// GOAL: Verify IsNotifying reflects the peer even when it disagrees with the local state
	//
	// TEST SCENARIO: Notify → peer clears CCCD → IsNotifying false while NotifyState stays Active

	c, pc := suite.char("180F", "2A19")
	stream, err := c.Notify(suite.Context())
	suite.Require().NoError(err)
	defer stream.Close()

	on, err := c.IsNotifying(suite.Context())
	suite.Require().NoError(err)
	suite.True(on)

	pc.ClearNotify()
	on, err = c.IsNotifying(suite.Context())
	suite.Require().NoError(err)
	suite.False(on, "IsNotifying MUST report the peer state")
	suite.Equal(device.NotifyActive, c.NotifyState())
}

func TestNotifyTestSuite(t *testing.T) {
	suite.Run(t, new(NotifyTestSuite))
}
