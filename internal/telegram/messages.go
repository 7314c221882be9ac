package telegram

const (
	textStart = "👋 Send me a link to a video from YouTube, TikTok, Instagram, Twitter/X, Reddit, " +
		"Facebook, Pinterest, Threads or Twitch and I will send the file back."
	textHelp = "How to use:\n" +
		"1. Send a link.\n" +
		"2. Pick a quality, or Audio for an mp3.\n" +
		"3. Wait for the file.\n\n" +
		"Auto picks the best quality that fits the 50 MB upload limit.\n" +
		"/stats shows the current load."
	textUnknownCommand = "Unknown command. Try /help."
	textSendLink       = "Please send a link to a video."
	textRateLimited    = "⏱ Too many requests. Please wait a minute."
	textUnsupported    = "This link is not supported."
	textExpired        = "This choice has expired. Please send the link again."
	textWatchTimeout   = "⌛ This is taking longer than usual. The download continues; send the link again later to get it from cache."
	textDeliveryFailed = "The file is ready but could not be sent."
)
