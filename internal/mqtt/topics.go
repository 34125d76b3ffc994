package mqtt

import "strings"

// DefaultDiscoveryPrefix is Home Assistant's discovery prefix
const DefaultDiscoveryPrefix = "homeassistant"

// Topics is the full topic layout for one unit: <prefix>/<friendly name>/...
type Topics struct {
	Main            string
	DiscoveryPrefix string

	PowerSet      string
	ModeSet       string
	TempSet       string
	RemoteTempSet string
	FanSet        string
	VaneSet       string
	WideVaneSet   string

	DebugPackets    string
	DebugPacketsSet string
	DebugLogs       string
	DebugLogsSet    string

	State         string
	SystemInfo    string
	SystemSet     string
	OptionRequest string
	OptionRespond string
	CustomSend    string
	Availability  string
	Birth         string
}

// NewTopics builds the topic layout. An empty discovery prefix uses DefaultDiscoveryPrefix.
func NewTopics(prefix, friendlyName, discoveryPrefix string) Topics {
	main := strings.Trim(prefix, "/")
	if main != "" {
		main += "/"
	}
	main += friendlyName

	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}

	return Topics{
		Main:            main,
		DiscoveryPrefix: discoveryPrefix,

		PowerSet:      main + "/power/set",
		ModeSet:       main + "/mode/set",
		TempSet:       main + "/temp/set",
		RemoteTempSet: main + "/remote_temp/set",
		FanSet:        main + "/fan/set",
		VaneSet:       main + "/vane/set",
		WideVaneSet:   main + "/wide-vane/set",

		DebugPackets:    main + "/debug/packets",
		DebugPacketsSet: main + "/debug/packets/set",
		DebugLogs:       main + "/debug/logs",
		DebugLogsSet:    main + "/debug/logs/set",

		State:         main + "/state",
		SystemInfo:    main + "/system/info",
		SystemSet:     main + "/system/set",
		OptionRequest: main + "/system/opt/rqt",
		OptionRespond: main + "/system/opt/rps",
		CustomSend:    main + "/custom/send",
		Availability:  main + "/availability",
		Birth:         discoveryPrefix + "/status",
	}
}

// Subscriptions returns every topic the bridge listens on
func (t Topics) Subscriptions() []string {
	return []string{
		t.SystemSet,
		t.OptionRequest,
		t.DebugPacketsSet,
		t.DebugLogsSet,
		t.PowerSet,
		t.ModeSet,
		t.FanSet,
		t.TempSet,
		t.VaneSet,
		t.WideVaneSet,
		t.RemoteTempSet,
		t.CustomSend,
		t.Birth,
	}
}

// DiscoveryTopic returns <discovery prefix>/<component>/<friendly name>[/<tag>]/config
func (t Topics) DiscoveryTopic(component, node, tag string) string {
	topic := t.DiscoveryPrefix + "/" + component + "/" + node + "/"
	if tag != "" {
		topic += tag + "/"
	}
	return topic + "config"
}
