// Package telemetrycontroller owns the radio: the FHT8V half-second
// slot protocol towards the valve head, periodic telemetry frames
// towards the hub, and the receive path for authenticated commands.
package telemetrycontroller

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/trv-controller/db"
	"github.com/thatsimonsguy/trv-controller/internal/datadog"
	"github.com/thatsimonsguy/trv-controller/internal/env"
	"github.com/thatsimonsguy/trv-controller/internal/fht8v"
	"github.com/thatsimonsguy/trv-controller/internal/frame"
	"github.com/thatsimonsguy/trv-controller/internal/gpio"
	"github.com/thatsimonsguy/trv-controller/internal/radio"
	"github.com/thatsimonsguy/trv-controller/internal/secureframe"
	"github.com/thatsimonsguy/trv-controller/internal/valve"
)

// Flags carried in the second body byte of the 'O' telemetry frame.
const (
	FlagCallForHeat     = 0x01
	FlagNonProportional = 0x40
	FlagFault           = 0x80
)

// txIDLen is how many leading node ID bytes telemetry headers carry.
const txIDLen = 4

type Controller struct {
	link       radio.Link
	dbConn     *sql.DB
	motorValve *valve.CurrentSenseValveMotor

	// tx is nil until a key is provisioned; telemetry then degrades to
	// a plain alive beacon. rx is nil when there are no associations.
	tx *secureframe.TX
	rx *secureframe.RX

	fv  *fht8v.Valve
	id  [8]byte
	seq uint8
}

func New(link radio.Link, dbConn *sql.DB, motorValve *valve.CurrentSenseValveMotor, id [8]byte, tx *secureframe.TX, rx *secureframe.RX) *Controller {
	return &Controller{
		link:       link,
		dbConn:     dbConn,
		motorValve: motorValve,
		tx:         tx,
		rx:         rx,
		fv:         fht8v.NewValve(link),
		id:         id,
	}
}

// FHT8VSynced reports whether the valve head link has completed sync.
func (c *Controller) FHT8VSynced() bool { return c.fv.Synced() }

// Run starts the slot driver, the telemetry ticker and the receive
// loop.
func (c *Controller) Run() {
	go c.runValveSlots()
	go c.runTelemetry()
	go c.runRecv()
}

// runValveSlots drives the FHT8V protocol at half-second slots on the
// 2s minor cycle, slot 0 aligned with the start of each cycle.
func (c *Controller) runValveSlots() {
	log.Info().Msg("Starting FHT8V slot driver")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	slot := uint8(0)
	more := false
	for range ticker.C {
		if slot == 0 {
			c.refreshFromDB()
			more = c.fv.PollSyncAndTXFirst(true)
		} else if more {
			more = c.fv.PollSyncAndTXNext(true)
		}
		slot = (slot + 1) % (fht8v.MaxHalfSecondCount + 1)
	}
}

// refreshFromDB picks up house code and target changes made through
// the API or debug tool; a house code change forces a resync.
func (c *Controller) refreshFromDB() {
	hc, err := db.GetHouseCode(c.dbConn)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read house code")
		return
	}
	if hc == nil {
		if c.fv.IsValidHC() {
			log.Info().Msg("House code cleared, disabling valve head link")
			c.fv.ClearHC()
		}
	} else {
		c.fv.SetHC1(hc.HC1)
		c.fv.SetHC2(hc.HC2)
	}
	c.fv.SetTarget(c.motorValve.TargetPC())
}

func (c *Controller) runTelemetry() {
	log.Info().Msg("Starting telemetry loop")

	ticker := time.NewTicker(time.Duration(env.Cfg.TelemetryIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := c.SendTelemetry(); err != nil {
			log.Error().Err(err).Msg("Telemetry TX failed")
			continue
		}
		datadog.Count("radio.telemetry_sent", 1, "component:radio")
	}
}

// SendTelemetry emits one telemetry frame: a secure 'O' frame when a
// key is provisioned, else a plain alive beacon so the hub can at
// least see the node.
func (c *Controller) SendTelemetry() error {
	c.seq = (c.seq + 1) & 0xf

	var buf [frame.MaxSmallFrameSize + 1]byte
	if c.tx == nil {
		n := frame.EncodeAliveBeacon(buf[:], c.seq, c.id[:2])
		if n == 0 {
			return fmt.Errorf("beacon encode failed")
		}
		return c.link.SendFrame(buf[:n])
	}

	n, err := c.tx.EncodeSecureFrame(buf[:], frame.TypeBasicSensorOrValve, txIDLen, c.buildBody())
	if err != nil {
		return fmt.Errorf("secure telemetry encode failed: %w", err)
	}
	return c.link.SendFrame(buf[:n])
}

// buildBody assembles the 'O' frame body: percent open, flags, then an
// optional compact stats object with the room temperature in 1/16 C.
func (c *Controller) buildBody() []byte {
	pc := c.motorValve.CurrentPC()

	var flags uint8
	if c.fv.IsControlledValveReallyOpen() || pc >= c.motorValve.MinPercentOpen() {
		flags |= FlagCallForHeat
	}
	if c.motorValve.InNonProportionalMode() {
		flags |= FlagNonProportional
	}
	if c.motorValve.IsInErrorState() {
		flags |= FlagFault
	}

	body := []byte{pc, flags}
	if env.Cfg != nil && env.Cfg.TempSensorBus != "" {
		sensorPath := filepath.Join("/sys/bus/w1/devices", env.Cfg.TempSensorBus)
		if temp, err := gpio.ReadSensorTemp(sensorPath); err == nil {
			datadog.Gauge("room.temperature", temp, "component:sensor")
			body = append(body, fmt.Sprintf(`{"T|C16":%d}`, int(temp*16))...)
		}
	}
	return body
}

func (c *Controller) runRecv() {
	for raw := range c.link.Recv() {
		c.handleFrame(raw)
	}
	log.Info().Msg("Radio receive loop closed")
}

// handleFrame processes one received frame. Only authenticated secure
// 'O' frames from associated nodes can change the target position;
// everything else is logged at debug and dropped.
func (c *Controller) handleFrame(raw []byte) {
	var h frame.Header
	if h.Decode(raw) == 0 {
		log.Debug().Msg("undecodable radio frame dropped")
		return
	}
	if !h.IsSecure() || c.rx == nil {
		log.Debug().Uint8("ftype", h.FType).Msg("non-secure frame ignored")
		return
	}

	res, err := c.rx.DecodeSecureFrame(&h, raw)
	if err != nil {
		log.Debug().Err(err).Msg("secure frame rejected")
		datadog.Count("radio.rx_rejected", 1, "component:radio")
		return
	}
	datadog.Count("radio.rx_authenticated", 1, "component:radio")

	if frame.Type(h.FType&^frame.SecureFlag) != frame.TypeBasicSensorOrValve || len(res.Body) < 1 {
		return
	}
	target := res.Body[0]
	if target > 100 {
		log.Warn().Uint8("target", target).Msg("hub sent out-of-range target, ignored")
		return
	}
	if err := db.UpdateTargetPercent(c.dbConn, target); err != nil {
		log.Error().Err(err).Msg("Failed to persist hub target")
		return
	}
	log.Info().
		Hex("sender", res.SenderID[:]).
		Uint8("target", target).
		Msg("Target percent set by hub")
}
