package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabelProbe is the DataChannel label the deployment probe opens
// once negotiation through the relay succeeds.
const DataChannelLabelProbe = "probe"

// CreateProbeDataChannel opens the probe channel on pc. It is ordered and fully
// reliable so that round-trip measurements never observe loss.
func CreateProbeDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	return pc.CreateDataChannel(DataChannelLabelProbe, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
}

// ValidateProbeDataChannel checks a remotely opened channel before the probe
// answers on it.
func ValidateProbeDataChannel(dc *webrtc.DataChannel) error {
	if dc.Label() != DataChannelLabelProbe {
		return fmt.Errorf("expected label=%q (got %q)", DataChannelLabelProbe, dc.Label())
	}
	if !dc.Ordered() {
		return fmt.Errorf("probe datachannel must be ordered (ordered=false)")
	}
	if dc.MaxPacketLifeTime() != nil {
		return fmt.Errorf("probe datachannel must be fully reliable (maxPacketLifeTime must be unset)")
	}
	if dc.MaxRetransmits() != nil {
		return fmt.Errorf("probe datachannel must be fully reliable (maxRetransmits must be unset)")
	}
	return nil
}
