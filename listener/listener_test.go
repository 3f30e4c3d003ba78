package listener_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sable-sec/loom/codec"
	"github.com/sable-sec/loom/listener"
	"github.com/sable-sec/loom/secret"
	"github.com/sable-sec/loom/tcp"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

// scriptedPrompt plays back a fixed sequence of operator commands and records
// everything printed. Once the script is exhausted it reports EOF, as a
// console would when stdin closes.
type scriptedPrompt struct {
	mu       sync.Mutex
	commands []string
	outputs  []string
}

func newScriptedPrompt(commands ...string) *scriptedPrompt {
	return &scriptedPrompt{commands: commands}
}

func (prompt *scriptedPrompt) ReadCommand(remote string) (string, error) {
	prompt.mu.Lock()
	defer prompt.mu.Unlock()
	if len(prompt.commands) == 0 {
		return "", io.EOF
	}
	command := prompt.commands[0]
	prompt.commands = prompt.commands[1:]
	return command, nil
}

func (prompt *scriptedPrompt) Print(output string) {
	prompt.mu.Lock()
	defer prompt.mu.Unlock()
	prompt.outputs = append(prompt.outputs, output)
}

func (prompt *scriptedPrompt) Outputs() []string {
	prompt.mu.Lock()
	defer prompt.mu.Unlock()
	outputs := make([]string, len(prompt.outputs))
	copy(outputs, prompt.outputs)
	return outputs
}

// repeatingPrompt answers every session with the same command, forever.
type repeatingPrompt struct {
	command string
}

func (prompt repeatingPrompt) ReadCommand(remote string) (string, error) {
	return prompt.command, nil
}

func (prompt repeatingPrompt) Print(string) {}

func agentCodecs(key secret.Key) (codec.Encoder, codec.Decoder) {
	session, err := codec.NewGCMSession(key)
	Expect(err).ToNot(HaveOccurred())
	enc := codec.GCMEncoder(session, codec.LengthPrefixEncoder(codec.PlainEncoder, codec.DefaultMaxFrameLen))
	dec := codec.GCMDecoder(session, codec.LengthPrefixDecoder(codec.PlainDecoder, codec.DefaultMaxFrameLen))
	return enc, dec
}

func serveListener(ctx context.Context, key secret.Key, prompt listener.Prompt) int {
	lis, port, err := tcp.ListenerWithAssignedPort(ctx, net.IPv4(127, 0, 0, 1))
	Expect(err).ToNot(HaveOccurred())

	opts := listener.DefaultOptions().WithLogger(zap.NewNop())
	l := listener.New(opts, key, prompt)
	go func() {
		defer GinkgoRecover()
		l.Serve(ctx, lis)
	}()
	return port
}

var _ = Describe("Listener", func() {
	Context("when the operator runs one command and exits", func() {
		It("should alternate strictly and end the session silently", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			key, err := secret.Generate()
			Expect(err).ToNot(HaveOccurred())
			prompt := newScriptedPrompt("whoami", "exit")
			port := serveListener(ctx, key, prompt)

			conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%v", port))
			Expect(err).ToNot(HaveOccurred())
			defer conn.Close()
			enc, dec := agentCodecs(key)

			// Exactly one command arrives.
			buf := make([]byte, codec.DefaultMaxFrameLen)
			n, err := dec(conn, buf)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(buf[:n])).To(Equal("whoami"))

			_, err = enc(conn, []byte("root\n"))
			Expect(err).ToNot(HaveOccurred())

			// "exit" closes the session without sending anything; the agent
			// observes a clean EOF, never the word "exit".
			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			_, err = dec(conn, buf)
			Expect(err).To(Equal(io.EOF))

			Expect(prompt.Outputs()).To(Equal([]string{"root\n"}))
		})
	})

	Context("when the agent answers with a corrupted frame", func() {
		It("should end only the failing session", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			key, err := secret.Generate()
			Expect(err).ToNot(HaveOccurred())
			port := serveListener(ctx, key, repeatingPrompt{command: "id"})

			bad, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%v", port))
			Expect(err).ToNot(HaveOccurred())
			defer bad.Close()
			good, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%v", port))
			Expect(err).ToNot(HaveOccurred())
			defer good.Close()

			_, badDec := agentCodecs(key)
			goodEnc, goodDec := agentCodecs(key)
			buf := make([]byte, codec.DefaultMaxFrameLen)

			// The bad session answers its command with garbage sealed under
			// no key at all.
			_, err = badDec(bad, buf)
			Expect(err).ToNot(HaveOccurred())
			garbage := make([]byte, 64)
			_, err = rand.Read(garbage)
			Expect(err).ToNot(HaveOccurred())
			_, err = codec.LengthPrefixEncoder(codec.PlainEncoder, codec.DefaultMaxFrameLen)(bad, garbage)
			Expect(err).ToNot(HaveOccurred())

			Expect(bad.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			_, err = badDec(bad, buf)
			Expect(err).To(Equal(io.EOF))

			// The good session keeps alternating.
			n, err := goodDec(good, buf)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(buf[:n])).To(Equal("id"))
			_, err = goodEnc(good, []byte("uid=0(root)\n"))
			Expect(err).ToNot(HaveOccurred())
			n, err = goodDec(good, buf)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(buf[:n])).To(Equal("id"))
		})
	})

	Context("when the bind address is already taken", func() {
		It("should fail fatally at startup", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			lis, port, err := tcp.ListenerWithAssignedPort(ctx, net.IPv4(127, 0, 0, 1))
			Expect(err).ToNot(HaveOccurred())
			defer lis.Close()

			key, err := secret.Generate()
			Expect(err).ToNot(HaveOccurred())
			opts := listener.DefaultOptions().
				WithLogger(zap.NewNop()).
				WithHost("127.0.0.1").
				WithPort(uint16(port))
			l := listener.New(opts, key, newScriptedPrompt())
			Expect(l.Listen(ctx)).To(HaveOccurred())
		})
	})
})
