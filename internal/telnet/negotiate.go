package telnet

import "sync"

// optionSet records which option codes have already been answered.
type optionSet [256]bool

// options holds the per-direction refusal bookkeeping.  The gateway
// never enables an option, so the only state worth keeping is whether
// a refusal was already sent.
type options struct {
	mu     sync.Mutex
	client optionSet // asserted by the peer via WILL/WONT
	server optionSet // requested of us via DO/DONT
}

// markClient records opt in the client set and reports whether this
// was its first mention.
func (o *options) markClient(opt byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.client[opt] {
		return false
	}
	o.client[opt] = true
	return true
}

// markServer records opt in the server set and reports whether this
// was its first mention.
func (o *options) markServer(opt byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.server[opt] {
		return false
	}
	o.server[opt] = true
	return true
}

func (o *options) hasClient(opt byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.client[opt]
}

func (o *options) hasServer(opt byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.server[opt]
}

// negotiate answers a WILL/WONT/DO/DONT for opt.  WILL and WONT are
// refused with DONT, DO and DONT with WONT, each at most once per
// option per direction for the lifetime of the connection.
func (c *Conn) negotiate(cmd, opt byte) error {
	var (
		first bool
		reply byte
	)
	switch cmd {
	case WILL, WONT:
		first, reply = c.opts.markClient(opt), DONT
	case DO, DONT:
		first, reply = c.opts.markServer(opt), WONT
	default:
		return nil
	}

	c.observer.Negotiated(cmd, opt, first)
	if !first {
		c.logger.Debug("telnet: %s %s already answered", CommandName(cmd), OptionName(opt))
		return nil
	}

	c.logger.Debug("telnet: %s %s -> %s", CommandName(cmd), OptionName(opt), CommandName(reply))
	return c.tr.Send([]byte{IAC, reply, opt})
}

// ClientOptionAnswered reports whether a WILL/WONT for opt has already
// been refused.
func (c *Conn) ClientOptionAnswered(opt byte) bool { return c.opts.hasClient(opt) }

// ServerOptionAnswered reports whether a DO/DONT for opt has already
// been refused.
func (c *Conn) ServerOptionAnswered(opt byte) bool { return c.opts.hasServer(opt) }
