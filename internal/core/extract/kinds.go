package extract

import (
	"path/filepath"
	"strings"
)

// FileKind is the closed set of content families the extractor can dispatch
// on. Everything routes through KindForExtension so unsupported uploads are
// rejected once, up front, instead of failing deep inside a provider call.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindDocument
	KindImage
	KindAudio
	KindVideo
)

func (k FileKind) String() string {
	switch k {
	case KindDocument:
		return "document"
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

var kindByExtension = map[string]FileKind{
	".pdf":   KindDocument,
	".doc":   KindDocument,
	".docx":  KindDocument,
	".pptx":  KindDocument,
	".odt":   KindDocument,
	".rtf":   KindDocument,
	".txt":   KindDocument,
	".md":    KindDocument,
	".html":  KindDocument,
	".png":   KindImage,
	".jpg":   KindImage,
	".jpeg":  KindImage,
	".webp":  KindImage,
	".gif":   KindImage,
	".mp3":   KindAudio,
	".wav":   KindAudio,
	".m4a":   KindAudio,
	".ogg":   KindAudio,
	".flac":  KindAudio,
	".mp4":   KindVideo,
	".mov":   KindVideo,
	".webm":  KindVideo,
	".mjpeg": KindVideo,
	".mjpg":  KindVideo,
}

// KindForExtension classifies a file name by its extension, case-insensitively.
func KindForExtension(fileName string) FileKind {
	ext := strings.ToLower(filepath.Ext(fileName))
	return kindByExtension[ext]
}

var mimeByExtension = map[string]string{
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".webp":  "image/webp",
	".gif":   "image/gif",
	".mp3":   "audio/mpeg",
	".wav":   "audio/wav",
	".m4a":   "audio/mp4",
	".ogg":   "audio/ogg",
	".flac":  "audio/flac",
	".mp4":   "video/mp4",
	".mov":   "video/quicktime",
	".webm":  "video/webm",
	".mjpeg": "video/x-motion-jpeg",
	".mjpg":  "video/x-motion-jpeg",
}

// mimeForExtension returns the media MIME type passed to the AI providers.
// Document types are handled by docconv's own extension mapping instead.
func mimeForExtension(fileName string) string {
	return mimeByExtension[strings.ToLower(filepath.Ext(fileName))]
}
