package worker

import (
	"errors"
	"fmt"
	"os"

	"scmap/internal/log"
	"scmap/internal/mapdata"
)

// Processor does the actual work inside the child process.
type Processor interface {
	Process(path, ext, dataPath string) (*mapdata.Metadata, [][]byte, error)
}

// RunChild is the child side of the protocol. args are the positional
// request arguments: path, extension and dataset path. Every init from the
// parent is acknowledged; work starts on the first one.
func RunChild(args []string, p Processor) error {
	if len(args) != 3 {
		return fmt.Errorf("expected 3 arguments (path, extension, dataset), got %d", len(args))
	}
	path, ext, dataPath := args[0], args[1], args[2]
	logger := log.Component("mapworker")

	images := make([]*os.File, len(mapdata.ImageSizes))
	for i := range images {
		images[i] = os.NewFile(uintptr(firstImageFD+i), fmt.Sprintf("image-%d", mapdata.ImageSizes[i]))
	}
	defer closeFiles(images)

	conn, err := fileConn(os.NewFile(messageFD, "mapworker-messages"))
	if err != nil {
		return fmt.Errorf("open message socket: %w", err)
	}
	defer conn.Close()
	writer := newMessageWriter(conn)

	msgs := make(chan Message)
	go readMessages(conn, msgs)
	started := make(chan bool, 1)
	go func() {
		acked := false
		for m := range msgs {
			if m.Type != MessageInit {
				continue
			}
			if err := writer.send(Message{Type: MessageInit}); err != nil {
				break
			}
			if !acked {
				acked = true
				started <- true
			}
		}
		if !acked {
			started <- false
		}
	}()
	if !<-started {
		return errors.New("message socket closed before handshake")
	}

	md, imgs, err := p.Process(path, ext, dataPath)
	if err == nil && dataPath != "" {
		err = writeImages(images, imgs)
	}
	closeFiles(images)

	if err != nil {
		logger.Warnw("map processing failed", "path", path, "error", err)
		kind := mapdata.KindOf(err)
		if kind == "" {
			kind = mapdata.KindProcess
		}
		return writer.send(Message{Type: MessageResult, Error: err.Error(), Kind: kind})
	}
	md.ParserVersion = mapdata.ParserVersion
	logger.Debugw("map processed", "hash", md.Hash, "images", len(imgs))
	return writer.send(Message{Type: MessageResult, Metadata: md})
}

func writeImages(files []*os.File, imgs [][]byte) error {
	if len(imgs) != len(files) {
		return mapdata.Errorf(mapdata.KindProcess, "rendered %d images, want %d", len(imgs), len(files))
	}
	for i, img := range imgs {
		if _, err := files[i].Write(img); err != nil {
			return mapdata.Wrap(mapdata.KindProcess, fmt.Sprintf("write %dpx image", mapdata.ImageSizes[i]), err)
		}
	}
	return nil
}
