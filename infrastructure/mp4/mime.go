package mp4

import "strings"

// Handler types from the hdlr box
const (
	handlerSound    = "soun"
	handlerVideo    = "vide"
	handlerText     = "text"
	handlerSubtitle = "subt"
	handlerSbtl     = "sbtl"
)

var audioMIMEs = map[string]string{
	"mp4a": "audio/mp4a-latm",
	".mp3": "audio/mpeg",
	"ac-3": "audio/ac3",
	"ec-3": "audio/eac3",
	"ac-4": "audio/ac4",
	"Opus": "audio/opus",
	"fLaC": "audio/flac",
	"alac": "audio/alac",
	"samr": "audio/3gpp",
	"sawb": "audio/amr-wb",
	"ipcm": "audio/raw",
	"fpcm": "audio/raw",
	"lpcm": "audio/raw",
	"sowt": "audio/raw",
	"twos": "audio/raw",
	"ulaw": "audio/g711-mlaw",
	"alaw": "audio/g711-alaw",
}

var videoMIMEs = map[string]string{
	"avc1": "video/avc",
	"avc3": "video/avc",
	"hvc1": "video/hevc",
	"hev1": "video/hevc",
	"vp08": "video/x-vnd.on2.vp8",
	"vp09": "video/x-vnd.on2.vp9",
	"av01": "video/av01",
	"mp4v": "video/mp4v-es",
	"s263": "video/3gpp",
	"jpeg": "video/mjpeg",
}

// MPEG-4 object type indications carried in esds for mp4a sample entries
var objectTypeMIMEs = map[byte]string{
	0x40: "audio/mp4a-latm",
	0x66: "audio/mp4a-latm",
	0x67: "audio/mp4a-latm",
	0x68: "audio/mp4a-latm",
	0x69: "audio/mpeg",
	0x6B: "audio/mpeg",
	0xA5: "audio/ac3",
	0xA6: "audio/eac3",
	0xA9: "audio/vnd.dts",
	0xAD: "audio/opus",
}

// mimeType derives a MIME type from the track handler, the sample entry
// fourcc and, for mp4a entries, the esds object type indication (0 if absent).
// Every sound track yields an "audio/" type so it stays eligible for selection.
func mimeType(handler, fourcc string, objectType byte) string {
	switch handler {
	case handlerSound:
		if fourcc == "mp4a" {
			if mime, ok := objectTypeMIMEs[objectType]; ok {
				return mime
			}
		}
		if mime, ok := audioMIMEs[fourcc]; ok {
			return mime
		}
		return "audio/x-" + sanitizeFourCC(fourcc)
	case handlerVideo:
		if mime, ok := videoMIMEs[fourcc]; ok {
			return mime
		}
		return "video/x-" + sanitizeFourCC(fourcc)
	case handlerText, handlerSubtitle, handlerSbtl:
		return "text/x-" + sanitizeFourCC(fourcc)
	default:
		return "application/x-" + sanitizeFourCC(handler)
	}
}

func sanitizeFourCC(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
