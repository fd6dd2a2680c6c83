// Package tinyble adapts tinygo.org/x/bluetooth to the engine's Ble
// interface: peripheral advertising with the Breeze manufacturer payload
// and the AIS GATT service carrying the two transport characteristics.
package tinyble

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"breeze-device/breeze"
)

// AIS 16-bit UUIDs.
const (
	serviceUUID      = 0xFEB3
	readCharUUID     = 0xFED4
	writeCharUUID    = 0xFED5
	indicateCharUUID = 0xFED6
	writeNRCharUUID  = 0xFED7
	notifyCharUUID   = 0xFED8
)

// Events is the callback surface of the engine. Completions are reported
// from a dedicated goroutine, never from inside Notify/Indicate, because
// the engine may hold its lock while submitting.
type Events interface {
	OnRx(data []byte)
	OnTxComplete(n int)
	OnConnect()
	OnDisconnect()
	OnServiceEnabled()
	OnMtuChanged(attMtu int)
}

// Driver implements the engine's Ble interface on top of BlueZ (or the
// platform stack tinygo bluetooth selects).
type Driver struct {
	adapter   *bluetooth.Adapter
	localName string

	mu           sync.Mutex
	ev           Events
	adv          *bluetooth.Advertisement
	advertising  bool
	notifyChar   bluetooth.Characteristic
	indicateChar bluetooth.Characteristic
	conn         *bluetooth.Device

	ackCh chan int
	done  chan struct{}
}

func New(localName string) *Driver {
	return &Driver{
		adapter:   bluetooth.DefaultAdapter,
		localName: localName,
		ackCh:     make(chan int, 16),
		done:      make(chan struct{}),
	}
}

// Enable brings the stack up and registers the AIS service. Callbacks
// are dropped until Bind attaches the engine, so Enable must run before
// the engine is constructed and Bind right after.
func (d *Driver) Enable() error {
	if err := d.adapter.Enable(); err != nil {
		return errors.Wrap(err, "enable BLE stack")
	}

	d.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		d.mu.Lock()
		if connected {
			dev := device
			d.conn = &dev
		} else {
			d.conn = nil
		}
		d.mu.Unlock()

		ev := d.events()
		if ev == nil {
			return
		}
		if connected {
			log.Infof("tinyble: central connected: %s", device.Address.String())
			ev.OnConnect()
			// The stack exposes no CCCD-subscription callback, so
			// service-enabled is synthesized right after connect.
			ev.OnServiceEnabled()
		} else {
			log.Infof("tinyble: central disconnected: %s", device.Address.String())
			ev.OnDisconnect()
		}
	})

	rxHandler := func(client bluetooth.Connection, offset int, value []byte) {
		ev := d.events()
		if ev == nil {
			return
		}
		buf := make([]byte, len(value))
		copy(buf, value)
		ev.OnRx(buf)
	}

	err := d.adapter.AddService(&bluetooth.Service{
		UUID: bluetooth.New16BitUUID(serviceUUID),
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  bluetooth.New16BitUUID(readCharUUID),
				Flags: bluetooth.CharacteristicReadPermission,
			},
			{
				UUID:       bluetooth.New16BitUUID(writeCharUUID),
				Flags:      bluetooth.CharacteristicWritePermission,
				WriteEvent: rxHandler,
			},
			{
				Handle: &d.indicateChar,
				UUID:   bluetooth.New16BitUUID(indicateCharUUID),
				Flags:  bluetooth.CharacteristicIndicatePermission | bluetooth.CharacteristicReadPermission,
			},
			{
				UUID:       bluetooth.New16BitUUID(writeNRCharUUID),
				Flags:      bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: rxHandler,
			},
			{
				Handle: &d.notifyChar,
				UUID:   bluetooth.New16BitUUID(notifyCharUUID),
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicReadPermission,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "register AIS service")
	}

	go d.ackLoop()
	return nil
}

// Bind attaches the engine's callback surface.
func (d *Driver) Bind(ev Events) {
	d.mu.Lock()
	d.ev = ev
	d.mu.Unlock()
}

func (d *Driver) events() Events {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ev
}

// ackLoop reports write completions in submission order.
func (d *Driver) ackLoop() {
	for {
		select {
		case <-d.done:
			return
		case n := <-d.ackCh:
			if ev := d.events(); ev != nil {
				ev.OnTxComplete(n)
			}
		}
	}
}

// AdvStart begins advertising the manufacturer payload. The payload's
// leading two bytes are the little-endian company ID, which the stack
// wants split out.
func (d *Driver) AdvStart(payload []byte) error {
	if len(payload) < 2 {
		return errors.New("adv payload too short")
	}
	cid := binary.LittleEndian.Uint16(payload[:2])

	d.mu.Lock()
	defer d.mu.Unlock()

	adv := d.adapter.DefaultAdvertisement()
	err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName: d.localName,
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: cid, Data: payload[2:]},
		},
	})
	if err != nil {
		return errors.Wrap(err, "configure advertisement")
	}
	if err := adv.Start(); err != nil {
		return errors.Wrap(err, "start advertising")
	}
	d.adv = adv
	d.advertising = true
	return nil
}

func (d *Driver) AdvStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.adv == nil || !d.advertising {
		return nil
	}
	d.advertising = false
	return errors.Wrap(d.adv.Stop(), "stop advertising")
}

func (d *Driver) Notify(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.notifyChar.Write(data)
	if err != nil {
		return errors.Wrap(err, "notify")
	}
	d.queueAck(n)
	return nil
}

// Indicate submits on the indication characteristic. BlueZ confirms the
// indication internally; completion is reported when the write returns.
func (d *Driver) Indicate(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.indicateChar.Write(data)
	if err != nil {
		return errors.Wrap(err, "indicate")
	}
	d.queueAck(n)
	return nil
}

func (d *Driver) queueAck(n int) {
	select {
	case d.ackCh <- n:
	default:
		log.Warn("tinyble: completion queue full, dropping ack")
	}
}

// Disconnect drops the current central. BlueZ picks its own HCI reason;
// the requested one is only logged.
func (d *Driver) Disconnect(reason breeze.DisconnectReason) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	log.Debugf("tinyble: disconnecting central (reason 0x%02X)", uint8(reason))
	return errors.Wrap(conn.Disconnect(), "disconnect")
}

// Mac returns the adapter address, big-endian as the advertisement
// carries it. The stack hands it out little-endian.
func (d *Driver) Mac() ([6]byte, error) {
	var mac [6]byte
	addr, err := d.adapter.Address()
	if err != nil {
		return mac, errors.Wrap(err, "adapter address")
	}
	for i := 0; i < 6; i++ {
		mac[i] = addr.MAC[5-i]
	}
	return mac, nil
}

func (d *Driver) Close() error {
	close(d.done)
	return d.AdvStop()
}
