package conversation

// inputController tracks whether live microphone capture is armed. The modality itself is
// decided per submission; micArmed is the only persistent discriminator.
type inputController struct {
	micArmed      bool
	speechEnabled bool
}

// toggleMic flips the arm state and reports whether capture was just armed.
func (c *inputController) toggleMic() bool {
	c.micArmed = !c.micArmed
	return c.micArmed
}

// resetMic restores idle visuals after a capture cycle, however it ended.
func (c *inputController) resetMic() bool {
	was := c.micArmed
	c.micArmed = false
	return was
}

func (c *inputController) toggleSpeech() bool {
	c.speechEnabled = !c.speechEnabled
	return c.speechEnabled
}
