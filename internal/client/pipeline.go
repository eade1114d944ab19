package client

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flashdb/nsredis/internal/namespace"
	"github.com/flashdb/nsredis/internal/protocol"
)

// Result is the reply to one pipelined command.
type Result struct {
	Value namespace.Value
	Err   error
}

// Pipeline buffers commands and sends them in one round trip. In transaction
// mode the batch is wrapped in MULTI/EXEC. A Pipeline is not safe for
// concurrent use.
type Pipeline struct {
	c    *Client
	tx   bool
	cmds []command
	err  error
}

// Pipeline returns an empty pipeline bound to c's namespace.
func (c *Client) Pipeline(transaction bool) *Pipeline {
	return &Pipeline{c: c, tx: transaction}
}

// Queue adds a command. Errors are reported by Exec.
func (p *Pipeline) Queue(args ...any) *Pipeline {
	if p.err != nil {
		return p
	}
	cmd, err := p.c.prepare(p.c.ns, args)
	if err != nil {
		p.err = fmt.Errorf("client: queue command %d: %w", len(p.cmds), err)
		return p
	}
	p.cmds = append(p.cmds, cmd)
	return p
}

// Len returns the number of queued commands.
func (p *Pipeline) Len() int { return len(p.cmds) }

// Exec sends the queued commands and returns one Result per command, with
// the namespace removed from each reply according to its own command.
// The pipeline is reset afterwards.
func (p *Pipeline) Exec(ctx context.Context) ([]Result, error) {
	cmds, err := p.cmds, p.err
	p.cmds, p.err = nil, nil
	if err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return nil, nil
	}

	ctx, span := p.c.tracer.Start(ctx, "pipeline",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("nsredis.namespace", p.c.ns),
			attribute.Int("nsredis.pipeline.length", len(cmds)),
			attribute.Bool("nsredis.pipeline.transaction", p.tx),
		))
	defer span.End()

	results, err := p.exec(ctx, cmds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) exec(ctx context.Context, cmds []command) ([]Result, error) {
	wire := make([][][]byte, 0, len(cmds)+2)
	if p.tx {
		wire = append(wire, bytesArgs("MULTI"))
	}
	for _, cmd := range cmds {
		wire = append(wire, protocol.Args(cmd.args))
	}
	if p.tx {
		wire = append(wire, bytesArgs("EXEC"))
	}

	replies, err := p.c.tr.RoundtripBatch(ctx, wire)
	if err != nil {
		return nil, err
	}
	if len(replies) != len(wire) {
		return nil, fmt.Errorf("client: pipeline: sent %d commands, got %d replies", len(wire), len(replies))
	}

	if !p.tx {
		return p.results(cmds, replies), nil
	}

	if err := replies[0].Err(); err != nil {
		return nil, fmt.Errorf("client: multi: %w", err)
	}
	// A command rejected while queueing makes EXEC fail with EXECABORT.
	for i, queued := range replies[1 : len(replies)-1] {
		if err := queued.Err(); err != nil {
			return nil, fmt.Errorf("client: queue %s: %w", cmds[i].name, err)
		}
	}
	exec := replies[len(replies)-1]
	if err := exec.Err(); err != nil {
		return nil, fmt.Errorf("client: exec: %w", err)
	}
	if exec.Null {
		return nil, ErrTxAborted
	}
	if len(exec.Array) != len(cmds) {
		return nil, fmt.Errorf("client: exec: %d results for %d commands", len(exec.Array), len(cmds))
	}
	return p.results(cmds, exec.Array), nil
}

func (p *Pipeline) results(cmds []command, replies []protocol.Value) []Result {
	out := make([]Result, len(cmds))
	for i, cmd := range cmds {
		reply := replies[i]
		if err := reply.Err(); err != nil {
			out[i] = Result{Err: err}
			continue
		}
		v, err := namespace.RewriteResponse(p.c.ns, cmd.name, protocol.ToNamespace(reply))
		if err != nil {
			err = fmt.Errorf("client: %s: %w", cmd.name, err)
		}
		out[i] = Result{Value: v, Err: err}
	}
	return out
}
