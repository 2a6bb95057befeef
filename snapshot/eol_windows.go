package snapshot

const lineSeparator = "\r\n"
