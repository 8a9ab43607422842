package prompt

import "strings"

// ChannelFamily returns the part of a channel identifier before its first
// colon, e.g. "signal:+15551234567" -> "signal", "terminal" -> "terminal".
func ChannelFamily(channel string) string {
	if idx := strings.IndexByte(channel, ':'); idx >= 0 {
		return channel[:idx]
	}
	return channel
}

// defaultChannelPrompt returns built-in formatting guidance for known
// channel families that need it. Channels not listed here (e.g. terminal,
// which renders rich text fine) get no extra guidance.
func defaultChannelPrompt(channel string) (string, bool) {
	switch ChannelFamily(channel) {
	case "signal":
		return signalChannelPrompt, true
	default:
		return "", false
	}
}

const signalChannelPrompt = `You're replying over Signal, a plain-text messenger. Skip markdown entirely — no asterisks, backticks, code fences, headers, or bullet markers. Short paragraphs, line breaks for structure.

This is a text conversation, not a terminal session: write like someone who knows what they're doing texting a friend. Match the length and energy of what you're replying to; a one-line question gets a one-line answer.

Conversations here can span hours or days. When the user comes back, just continue — don't announce that you're picking things back up or summarize what already happened. Reference earlier context the way a person would ("right, the build issue"), not as a recap.

Only your final reply is delivered; everything you do along the way (tool calls) happens silently. Don't narrate step by step — just do the work and report the outcome. For work that will visibly take a while, send a short heads-up first so the wait doesn't read as nothing happening, then go quiet until you're done.

Share results the way you'd tell someone in person, not as a transcript: say what happened and what it means, and only paste raw output (logs, diffs, errors) when they actually need to see it.`
