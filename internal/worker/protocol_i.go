package worker

import (
	"io"
	"net"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"scmap/internal/mapdata"
)

// File descriptor layout in the child: the message socket comes first, then
// one image pipe per size in mapdata.ImageSizes order.
const (
	messageFD    = 3
	firstImageFD = 4
)

type MessageType string

const (
	MessageInit   MessageType = "init"
	MessageResult MessageType = "result"
)

// Message is one newline-delimited JSON frame on the message socket.
type Message struct {
	Type     MessageType       `json:"type"`
	Metadata *mapdata.Metadata `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
	Kind     mapdata.ErrorKind `json:"kind,omitempty"`
}

// socketPair returns a connected pair of stream sockets. Both ends are
// close-on-exec; exec.Cmd.ExtraFiles dups the child end.
func socketPair() (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return os.NewFile(uintptr(fds[0]), "mapworker-parent"), os.NewFile(uintptr(fds[1]), "mapworker-child"), nil
}

// fileConn turns an inherited or freshly created socket file into a
// net.Conn and releases the original descriptor.
func fileConn(f *os.File) (net.Conn, error) {
	defer f.Close()
	return net.FileConn(f)
}

type messageWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newMessageWriter(w io.Writer) *messageWriter {
	return &messageWriter{enc: json.NewEncoder(w)}
}

func (w *messageWriter) send(m Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(m)
}

// readMessages decodes frames from r into out until r fails, then closes out.
func readMessages(r io.Reader, out chan<- Message) {
	defer close(out)
	dec := json.NewDecoder(r)
	for {
		var m Message
		if err := dec.Decode(&m); err != nil {
			return
		}
		out <- m
	}
}
