// Package mavlink binds the simulator to gomavlib's ardupilotmega dialect:
// the handful of messages exchanged with an ArduSub autopilot, the enum
// values the simulator sets, and helpers to encode and decode frames.
package mavlink

import (
	"strings"
	"sync"

	"github.com/bluenviron/gomavlib/v3/pkg/dialect"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// Message is any message of the dialect.
type Message = message.Message

// Frame is one decoded MAVLink v1 or v2 packet.
type Frame = frame.Frame

// Messages exchanged with the autopilot.
type (
	Heartbeat         = ardupilotmega.MessageHeartbeat
	SetMode           = ardupilotmega.MessageSetMode
	GlobalPositionInt = ardupilotmega.MessageGlobalPositionInt
	CommandLong       = ardupilotmega.MessageCommandLong
	DistanceSensor    = ardupilotmega.MessageDistanceSensor
	StatusText        = ardupilotmega.MessageStatustext
)

// Message IDs the simulator refers to by number.
const (
	MsgIDGlobalPositionInt uint32 = 33
	MsgIDDistanceSensor    uint32 = 132
)

// Enum values used by the simulator. COMMAND_LONG carries the common
// MAV_CMD type, which ardupilotmega redeclares rather than aliases.
const (
	CmdComponentArmDisarm = common.MAV_CMD_COMPONENT_ARM_DISARM
	CmdSetMessageInterval = common.MAV_CMD_SET_MESSAGE_INTERVAL

	ModeFlagCustomModeEnabled = ardupilotmega.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED
	ModeFlagSafetyArmed       = ardupilotmega.MAV_MODE_FLAG_SAFETY_ARMED

	DistanceSensorUnknown  = ardupilotmega.MAV_DISTANCE_SENSOR_UNKNOWN
	SensorRotationPitch270 = ardupilotmega.MAV_SENSOR_ROTATION_PITCH_270

	SeverityCritical = ardupilotmega.MAV_SEVERITY_CRITICAL
	SeverityWarning  = ardupilotmega.MAV_SEVERITY_WARNING
	SeverityInfo     = ardupilotmega.MAV_SEVERITY_INFO

	TypeSubmarine = ardupilotmega.MAV_TYPE_SUBMARINE
	TypeGCS       = ardupilotmega.MAV_TYPE_GCS
)

var dialectRW = sync.OnceValues(func() (*dialect.ReadWriter, error) {
	rw := &dialect.ReadWriter{Dialect: ardupilotmega.Dialect}
	if err := rw.Initialize(); err != nil {
		return nil, err
	}
	return rw, nil
})

// Armed reports whether a heartbeat announces armed motors.
func Armed(hb *Heartbeat) bool {
	return hb.BaseMode&ModeFlagSafetyArmed != 0
}

// SeverityName returns the label used when relaying status text.
func SeverityName(severity ardupilotmega.MAV_SEVERITY) string {
	if name, ok := strings.CutPrefix(severity.String(), "MAV_SEVERITY_"); ok {
		return name
	}
	return "unknown"
}
