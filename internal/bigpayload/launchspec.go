package bigpayload

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/ktnrg45/goremoteplay/internal/crypto"
)

// LaunchSpec mirrors pyremoteplay/stream_packets.py's LAUNCH_SPEC dict,
// field for field and in the same key order, since downstream JSON
// minification is order-sensitive on the wire (spec.md section 6).
type LaunchSpec struct {
	SessionID         string              `json:"sessionId"`
	StreamResolutions []launchResolution  `json:"streamResolutions"`
	Network           launchNetwork       `json:"network"`
	SlotID            int                 `json:"slotId"`
	AppSpecification  launchAppSpec       `json:"appSpecification"`
	Konan             launchKonan         `json:"konan"`
	RequestGameSpec   launchGameSpec      `json:"requestGameSpecification"`
	UserProfile       launchUserProfile   `json:"userProfile"`
	HandshakeKey      string              `json:"handshakeKey"`
}

type launchResolution struct {
	Resolution struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"resolution"`
	MaxFPS int `json:"maxFps"`
	Score  int `json:"score"`
}

type launchNetwork struct {
	BWKbpsSent int     `json:"bwKbpsSent"`
	BWLoss     float64 `json:"bwLoss"`
	MTU        int     `json:"mtu"`
	RTT        int     `json:"rtt"`
	Ports      []int   `json:"ports"`
}

type launchAppSpec struct {
	MinFPS               int    `json:"minFps"`
	MinBandwidth         int    `json:"minBandwidth"`
	ExtTitleID           string `json:"extTitleId"`
	Version              int    `json:"version"`
	TimeLimit            int    `json:"timeLimit"`
	StartTimeout         int    `json:"startTimeout"`
	AfkTimeout           int    `json:"afkTimeout"`
	AfkTimeoutDisconnect int    `json:"afkTimeoutDisconnect"`
}

type launchKonan struct {
	PS3AccessToken  string `json:"ps3AccessToken"`
	PS3RefreshToken string `json:"ps3RefreshToken"`
}

type launchGameSpec struct {
	Model                string   `json:"model"`
	Platform             string   `json:"platform"`
	AudioChannels        string   `json:"audioChannels"`
	Language             string   `json:"language"`
	AcceptButton         string   `json:"acceptButton"`
	ConnectedControllers []string `json:"connectedControllers"`
	YUVCoefficient       string   `json:"yuvCoefficient"`
	VideoEncoderProfile  string   `json:"videoEncoderProfile"`
	AudioEncoderProfile  string   `json:"audioEncoderProfile"`
}

type launchUserProfile struct {
	OnlineID      string   `json:"onlineId"`
	NpID          string   `json:"npId"`
	Region        string   `json:"region"`
	LanguagesUsed []string `json:"languagesUsed"`
}

// DefaultLaunchSpec returns a LaunchSpec populated with the constant fields
// pyremoteplay.stream_packets.LAUNCH_SPEC hardcodes; callers fill in the
// per-session fields (resolution, bitrate, mtu, rtt, handshake key) before
// calling EncodeLaunchSpec.
func DefaultLaunchSpec() LaunchSpec {
	ls := LaunchSpec{
		SessionID: "sessionId4321",
		SlotID:    1,
	}
	ls.StreamResolutions = []launchResolution{{MaxFPS: 0, Score: 10}}
	ls.Network.BWLoss = 0.001
	ls.Network.Ports = []int{53, 2053}
	ls.AppSpecification = launchAppSpec{
		MinFPS: 30, MinBandwidth: 0, ExtTitleID: "ps3", Version: 1,
		TimeLimit: 1, StartTimeout: 100, AfkTimeout: 100, AfkTimeoutDisconnect: 100,
	}
	ls.Konan = launchKonan{PS3AccessToken: "accessToken", PS3RefreshToken: "refreshToken"}
	ls.RequestGameSpec = launchGameSpec{
		Model: "bravia_tv", Platform: "android", AudioChannels: "5.1",
		Language: "sp", AcceptButton: "X",
		ConnectedControllers: []string{"xinput", "ds3", "ds4"},
		YUVCoefficient:       "bt601", VideoEncoderProfile: "hw4.1", AudioEncoderProfile: "audio1",
	}
	ls.UserProfile = launchUserProfile{
		OnlineID: "psnId", NpID: "npId", Region: "US", LanguagesUsed: []string{"en", "jp"},
	}
	return ls
}

// marshalMinified renders ls as compact JSON and applies the exact
// ":0.001," -> ":0.001000," rewrite spec.md section 4.6 step 1 requires
// (the receiver rejects Go's/Python's default float formatting for this
// field), then appends the trailing zero byte step 2 requires.
func marshalMinified(ls LaunchSpec) ([]byte, error) {
	b, err := json.Marshal(ls)
	if err != nil {
		return nil, err
	}
	s := strings.ReplaceAll(string(b), `:0.001,`, `:0.001000,`)
	return append([]byte(s), 0x00), nil
}

// EncodeLaunchSpec runs the full §4.6 transformation pipeline: minify,
// encrypt a same-length zero buffer with a fresh counter-0 instance of the
// control-session cipher to obtain a keystream, XOR the launch_spec bytes
// against it, then base64-encode the result. controlKey/controlNonce come
// from control.Channel.ControlCipherMaterial so this never advances the
// live control channel's send/recv counters.
func EncodeLaunchSpec(ls LaunchSpec, controlKey, controlNonce []byte) (string, error) {
	plain, err := marshalMinified(ls)
	if err != nil {
		return "", err
	}

	cipher := crypto.NewSessionCipher(controlKey, controlNonce, 0)
	keystream, err := cipher.Encrypt(make([]byte, len(plain)))
	if err != nil {
		return "", err
	}

	out := make([]byte, len(plain))
	for i := range out {
		out[i] = plain[i] ^ keystream[i]
	}
	return base64.StdEncoding.EncodeToString(out), nil
}
