package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/relay-agent/internal/status"
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
	"num": func(v *float64, unit string) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.1f%s", *v, unit)
	},
	"onOff": func(on bool) string {
		if on {
			return "ON"
		}
		return "OFF"
	},
	"guard": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Relay Agent</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.armed { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Relay Agent</h1>

<h2>Relays</h2>
<table>
{{range .Relays}}<tr><th>{{.ID}} {{.Name}}</th><td class="{{if .On}}on{{else}}off{{end}}">{{onOff .On}}</td></tr>
{{else}}<tr><td colspan="2">no relay states seen yet</td></tr>
{{end}}</table>

<h2>Telemetry</h2>
{{if .HasTelemetry}}<table>
<tr><th>Battery</th><td>{{num .Telemetry.BatteryLevel "%"}}</td></tr>
<tr><th>Voltage</th><td>{{num .Telemetry.Voltage " V"}}</td></tr>
<tr><th>Current</th><td>{{num .Telemetry.Current " A"}}</td></tr>
<tr><th>Power</th><td>{{num .Telemetry.Power " W"}}</td></tr>
<tr><th>Temperature</th><td>{{num .Telemetry.Temperature " C"}}</td></tr>
<tr><th>Humidity</th><td>{{num .Telemetry.Humidity "%"}}</td></tr>
<tr><th>Updated</th><td>{{.Telemetry.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
</table>{{else}}<p>no telemetry yet</p>{{end}}

<h2>Automation</h2>
<table>
<tr><th>Guard</th><td class="{{if eq (printf "%s" .Automation.Guard) "ARMED"}}armed{{end}}">{{guard (printf "%s" .Automation.Guard)}}</td></tr>
<tr><th>Threshold</th><td>{{printf "%.1f" .Automation.Threshold}}%</td></tr>
<tr><th>Pending</th><td>{{if .Automation.Pending}}yes{{else}}no{{end}}</td></tr>
<tr><th>Running</th><td>{{if .Automation.InFlight}}yes{{else}}no{{end}}</td></tr>
{{with .Forecast}}<tr><th>Forecast usage</th><td>{{printf "%.1f" .PredictedUsage}}</td></tr>
<tr><th>Usage pattern</th><td>{{.UsagePatternSummary}}</td></tr>{{end}}
<tr><th>Preferences</th><td>{{if .Preferences}}{{.Preferences}}{{else}}-{{end}}</td></tr>
</table>

{{with .LastDecision}}<h2>Last Decision</h2>
<table>
<tr><th>When</th><td>{{.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Trigger</th><td>{{.Trigger}}</td></tr>
{{if .Band}}<tr><th>Band</th><td>{{.Band}}</td></tr>{{end}}
<tr><th>Relays ON</th><td>{{.OnCount}}</td></tr>
{{if .Failed}}<tr><th>Failed</th><td>{{range .Failed}}{{.}} {{end}}</td></tr>{{end}}
<tr><th>Rationale</th><td>{{.Rationale}}</td></tr>
</table>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Prefix</th><td>{{.Config.Prefix}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Automations</th><td>{{.Counts.Automations}}</td></tr>
<tr><th>Dropped</th><td>{{.Counts.Dropped}}</td></tr>
<tr><th>Deferred</th><td>{{.Counts.Deferred}}</td></tr>
<tr><th>Toggles</th><td>{{.Counts.Toggles}}</td></tr>
<tr><th>Write failures</th><td>{{.Counts.WriteFailures}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Relays</th><td>{{.Config.RelayCount}}{{if .Config.GPIOEnabled}} (gpio{{if .Config.ActiveLow}}, active low{{end}}){{end}}</td></tr>
<tr><th>Write timeout</th><td>{{.Config.WriteMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/api/decisions">Decisions</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
