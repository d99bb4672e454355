package rtc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// OfferInfo is what the host needs to know about a client offer before answering.
type OfferInfo struct {
	VideoDirection webrtc.RTPTransceiverDirection
	VideoCodecs    []string
	DataChannel    bool
}

// WantsVideo reports whether the offer can receive the host's screen track.
func (o OfferInfo) WantsVideo() bool {
	return o.VideoDirection == webrtc.RTPTransceiverDirectionRecvonly ||
		o.VideoDirection == webrtc.RTPTransceiverDirectionSendrecv
}

func InspectOffer(raw string) (OfferInfo, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return OfferInfo{}, fmt.Errorf("parse offer: %w", err)
	}

	info := OfferInfo{VideoDirection: webrtc.RTPTransceiverDirectionInactive}
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "application":
			info.DataChannel = true
		case "video":
			info.VideoDirection = mediaDirection(md)
			for _, format := range md.MediaName.Formats {
				pt, err := strconv.ParseUint(format, 10, 8)
				if err != nil {
					continue
				}
				codec, err := desc.GetCodecForPayloadType(uint8(pt))
				if err != nil {
					continue
				}
				info.VideoCodecs = appendUnique(info.VideoCodecs, strings.ToUpper(codec.Name))
			}
		}
	}
	return info, nil
}

// mediaDirection treats a section without a direction attribute as sendrecv.
func mediaDirection(md *sdp.MediaDescription) webrtc.RTPTransceiverDirection {
	switch {
	case hasAttr(md, "recvonly"):
		return webrtc.RTPTransceiverDirectionRecvonly
	case hasAttr(md, "sendonly"):
		return webrtc.RTPTransceiverDirectionSendonly
	case hasAttr(md, "inactive"):
		return webrtc.RTPTransceiverDirectionInactive
	}
	return webrtc.RTPTransceiverDirectionSendrecv
}

func hasAttr(md *sdp.MediaDescription, key string) bool {
	_, ok := md.Attribute(key)
	return ok
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
