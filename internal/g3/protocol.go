package g3

import "encoding/json"

// The glasses expose a JSON request/response protocol over a single
// WebSocket at ws://<hostname>/websocket (subprotocol "g3api").
//
// Requests carry a client-chosen id; the device echoes it on the response.
// Signal subscriptions (paths containing ':') respond with a subscription
// id, after which matching events arrive unsolicited as
// {"signal": <subID>, "body": [deviceTS, payload]}.

const (
	wsPath        = "/websocket"
	wsSubprotocol = "g3api"
)

// API paths used by the client. Properties are read with GET, actions
// (suffix "!name") invoked with POST, and signals (suffix ":name")
// subscribed with POST and released with DELETE.
const (
	pathSerial       = "/system.head-unit-serial"
	pathFirmware     = "/system.version"
	pathBatteryLevel = "/system/battery.level"
	pathCharging     = "/system/battery.charging"
	pathGazeFreqs    = "/system!available-gaze-frequencies"
	pathSetGazeFreq  = "/settings!set-gaze-frequency"
	pathCalibrate    = "/rudimentary!calibrate"
	pathKeepalive    = "/rudimentary!keepalive"
	pathStartStreams = "/rudimentary!start-streams"
	pathStopStreams  = "/rudimentary!stop-streams"
	pathGazeSignal   = "/rudimentary:gaze"
	pathIMUSignal    = "/rudimentary:imu"
	pathEventSignal  = "/rudimentary:event"
	pathSyncSignal   = "/rudimentary:sync-port"
)

// request is one client-to-device frame.
type request struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Path   string      `json:"path"`
	Body   interface{} `json:"body"`
}

// frame is one device-to-client message: either a response (ID set) or a
// signal event (Signal set).
type frame struct {
	ID     *int64          `json:"id,omitempty"`
	Signal *int64          `json:"signal,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// signalEvent is the body of a signal frame: [deviceTS, payload].
type signalEvent struct {
	DeviceTS float64
	Payload  json.RawMessage
}

func (e *signalEvent) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) > 0 {
		if err := json.Unmarshal(parts[0], &e.DeviceTS); err != nil {
			return err
		}
	}
	if len(parts) > 1 {
		e.Payload = parts[1]
	}
	return nil
}
