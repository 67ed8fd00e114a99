package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/hottub-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateOrUnknown": stateOrUnknown,
	"stateClass": func(s string) string {
		switch stateOrUnknown(s) {
		case "ON":
			return "on"
		case "OFF":
			return "off"
		default:
			return "unknown"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="60">
<title>Hot Tub Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Hot Tub Controller</h1>

<h2>Devices</h2>
<table>
<tr><th>Pump</th><td class="{{stateClass (printf "%s" .Engine.Pump)}}">{{stateOrUnknown (printf "%s" .Engine.Pump)}}</td></tr>
<tr><th>Heater</th><td class="{{stateClass (printf "%s" .Heater)}}">{{stateOrUnknown (printf "%s" .Heater)}}</td></tr>
<tr><th>Read failures</th><td>{{.Engine.ReadFailures}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}warming up ({{.LagFill}}/{{.Config.LagDepth}}){{end}}</td></tr>
</table>

{{with .Last}}
<h2>Last Decision</h2>
<table>
<tr><th>Time</th><td>{{.Timestamp.Format "2006-01-02 15:04:05"}}</td></tr>
<tr><th>Hot tub</th><td>{{.HotTubF}}</td></tr>
<tr><th>Solar surface</th><td>{{.SolarF}}</td></tr>
<tr><th>Ambient</th><td>{{.AmbientF}}</td></tr>
<tr><th>Delta</th><td>{{.Delta}}</td></tr>
<tr><th>Action</th><td>{{.Action}}</td></tr>
<tr><th>Rule</th><td>{{.Rule}}</td></tr>
<tr><th>Note</th><td>{{.Note}}</td></tr>
{{if .Duration}}<tr><th>Duration</th><td>{{.Duration}}</td></tr>{{end}}
</table>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Decision Counts</h2>
<table>
<tr><th>Pump ON</th><td>{{.Counts.PumpOn}}</td></tr>
<tr><th>Pump OFF</th><td>{{.Counts.PumpOff}}</td></tr>
<tr><th>No change</th><td>{{.Counts.NoChange}}</td></tr>
<tr><th>Missing data</th><td>{{.Counts.Failures}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Session</th><td>{{.Config.Session}}</td></tr>
<tr><th>Interval</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>Gateway</th><td>{{.Config.Gateway}} (pump {{.Config.PumpID}}, heater {{.Config.HeaterID}})</td></tr>
<tr><th>Thresholds</th><td>on &gt; {{.Config.Control.DeltaOn}}°F, off &lt; {{.Config.Control.DeltaOff}}°F, max {{.Config.Control.MaxTempF}}°F</td></tr>
<tr><th>Dwell</th><td>min on {{.Config.Control.MinOn}}, min off {{.Config.Control.MinOff}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/records.json">Records</a> | <a href="/metrics">Metrics</a></p>
</body>
</html>
`

func stateOrUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() and Ready() methods; the template reads fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Ready  bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Ready:    snap.Ready(),
	}
	return indexTmpl.Execute(w, data)
}
