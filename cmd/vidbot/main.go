// Command vidbot runs the reference analytics bot: it counts frames and
// publishes a summary record every report_every frames (every frame when
// report_every is unset), and acknowledges control records. Real deployments
// replace the descriptor with their own callbacks and keep the runtime.
package main

import (
	"os"

	"vidbot/internal/bot"
	"vidbot/internal/packet"
	"vidbot/internal/runtime"
)

type frameStats struct {
	frames   uint64
	reported uint64
}

func main() {
	stats := &frameStats{}

	desc := bot.Descriptor{
		PixelFormat: packet.PixelFormatBGR0,
		Init: func(ctx *bot.Context, cfg bot.Config) error {
			if v, ok := cfg["report_every"].(float64); ok && v > 0 {
				stats.reported = uint64(v)
			}
			ctx.Logger.Info("frame-stats bot configured", "report_every", stats.reported)
			return nil
		},
		Process: func(ctx *bot.Context, in bot.Input) []bot.Message {
			if in.Control != nil {
				return []bot.Message{{
					Kind: bot.Control,
					Record: map[string]any{
						"bot_id": ctx.ID,
						"ack":    in.Control["action"],
					},
				}}
			}

			var out []bot.Message
			for _, p := range in.Frames {
				frame, ok := p.(packet.ImageFrame)
				if !ok {
					continue
				}
				stats.frames++
				if stats.reported == 0 || stats.frames%stats.reported == 0 {
					out = append(out, bot.Message{
						Kind: bot.Analysis,
						Record: map[string]any{
							"frame_count": stats.frames,
							"frame_id":    map[string]any{"i1": frame.ID.I1, "i2": frame.ID.I2},
						},
					})
				}
			}
			return out
		},
	}

	os.Exit(runtime.Main(desc))
}
