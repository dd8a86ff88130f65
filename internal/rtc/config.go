package rtc

import "github.com/pion/webrtc/v3"

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

func configuration(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		stunServers = DefaultSTUNServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
}
