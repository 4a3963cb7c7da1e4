package procpool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/solsol/solsol/internal/logger"
)

// Serve runs the child side of the protocol: it reads requests from in, one per
// line, executes them one at a time and writes a response line to out for each.
// It returns nil when in reaches EOF.
func Serve(ctx context.Context, in io.Reader, out io.Writer, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	w := bufio.NewWriter(out)

	log.Debug("process worker serving", logger.Field{Key: "methods", Value: Methods()})

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		resp := response{}
		if err := json.Unmarshal(line, &req); err != nil {
			resp.Error = fmt.Sprintf("malformed request: %v", err)
		} else {
			resp = handle(ctx, req, log)
		}

		data, err := json.Marshal(resp)
		if err != nil {
			data, _ = json.Marshal(response{ID: resp.ID, Error: fmt.Sprintf("encode result: %v", err)})
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
	}

	return scanner.Err()
}

func handle(ctx context.Context, req request, log *logger.Logger) (resp response) {
	resp.ID = req.ID

	h, ok := lookup(req.Method)
	if !ok {
		resp.Error = "unknown method " + req.Method
		return resp
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("process handler panicked", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "method", Value: req.Method},
				logger.Field{Key: "stack", Value: string(debug.Stack())})
			resp.Result = nil
			resp.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	result, err := h(ctx, req.Payload)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = fmt.Sprintf("encode result: %v", err)
		return resp
	}
	resp.Result = data
	return resp
}
