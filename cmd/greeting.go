package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Champsson/Kooler-Agent/agent/channel"
	"github.com/Champsson/Kooler-Agent/agent/speech"
	configx "github.com/Champsson/Kooler-Agent/pkg/config"
)

const greetingKey = "greeting.mp3"

var greetingCmd = &cobra.Command{
	Use:   "greeting",
	Short: "Synthesize the call greeting and upload it",
	Long: `Render the greeting with the configured TTS voice, upload it as greeting.mp3
and print its URL. Set TWILIO_GREETING_URL to the URL to play it on calls.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")

		appCfg, err := configx.New[AppConfig]("APP")
		if err != nil {
			return err
		}
		ttsCfg, err := configx.New[speech.Config]("TTS")
		if err != nil {
			return err
		}
		oai, err := newOpenAI()
		if err != nil {
			return err
		}
		audio, err := newAudioStore(cmd.Context(), appCfg.PublicBaseURL)
		if err != nil {
			return err
		}

		data, err := oai.Speech(cmd.Context(), text, ttsCfg.Voice, ttsCfg.Model)
		if err != nil {
			return err
		}
		url, err := audio.Put(cmd.Context(), greetingKey, data, "audio/mpeg")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), url)
		return nil
	},
}

func init() {
	greetingCmd.Flags().String("text", channel.GreetingText, "greeting to synthesize")
}
