// Package brainrot turns a long-lived IRC connection into a reliable stream
// of typed events.
//
// Connect starts a supervisor that dials the server, registers, keeps the
// session alive and reconnects with exponential backoff when the transport
// fails. Each connection attempt is a session: its events carry the session
// ID and a sequence number, and a new session's events never interleave with
// the previous one's. Every session ends with exactly one Disconnected event.
//
//	c, err := brainrot.Connect(ctx, brainrot.Endpoint{Address: "irc.libera.chat:6697"},
//		brainrot.Credentials{Nickname: "rotbot"}, brainrot.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	for {
//		env, err := c.Events().Next(ctx)
//		if errors.Is(err, brainrot.ErrConsumerOverflow) {
//			continue
//		}
//		if err != nil {
//			return err
//		}
//		switch ev := env.Event.(type) {
//		case brainrot.Registered:
//			_ = c.Send(ctx, brainrot.Join("#rot"))
//		case brainrot.Message:
//			fmt.Println(ev.From, ev.Text)
//		}
//	}
//
// Outbound commands are paced by a token bucket and released in submission
// order. Consumers that fall behind lose their oldest events instead of
// stalling the session, and are told how many they lost.
package brainrot
