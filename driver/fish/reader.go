package fish

import "io"

// chunk is one read from the ssh child's stdout, or the error that
// ended the read loop.
type chunk struct {
	data []byte
	err  error
}

// pumpReader runs in its own goroutine reading arbitrarily-sized
// chunks from r and forwarding them on ch, exactly the background-
// goroutine-plus-channel shape the teacher's sshSessionExternal uses
// to make an unavoidably-blocking operation (here, stdout.Read)
// drivable from a non-blocking Step loop: data.go's startDataDial does
// the same for TCP dial.
func pumpReader(r io.Reader, ch chan<- chunk, notify func()) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			ch <- chunk{data: cp}
		}
		if err != nil {
			ch <- chunk{err: err}
			if notify != nil {
				notify()
			}
			return
		}
		if notify != nil {
			notify()
		}
	}
}
