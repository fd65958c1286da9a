package protocol

import "strconv"

// Command identifies the meaning of a frame. Values are fixed by the wire
// format and must not be renumbered.
type Command uint16

const (
    CmdConnect           Command = 0
    CmdChatMessage       Command = 1
    CmdFileAnnounce      Command = 2
    CmdDownloadRequest   Command = 3
    CmdDisconnect        Command = 4
    CmdFileStart         Command = 5
    CmdFileData          Command = 6
    CmdFileEnd           Command = 7
    CmdFileAck           Command = 8
    CmdRetransmitRequest Command = 9
    CmdRosterSnapshot    Command = 10
)

var commandNames = map[Command]string{
    CmdConnect:           "Connect",
    CmdChatMessage:       "ChatMessage",
    CmdFileAnnounce:      "FileAnnounce",
    CmdDownloadRequest:   "DownloadRequest",
    CmdDisconnect:        "Disconnect",
    CmdFileStart:         "FileStart",
    CmdFileData:          "FileData",
    CmdFileEnd:           "FileEnd",
    CmdFileAck:           "FileAck",
    CmdRetransmitRequest: "RetransmitRequest",
    CmdRosterSnapshot:    "RosterSnapshot",
}

func (c Command) String() string {
    if n, ok := commandNames[c]; ok { return n }
    return "Command(" + strconv.Itoa(int(c)) + ")"
}

// Known reports whether c is part of the command set.
func (c Command) Known() bool {
    _, ok := commandNames[c]
    return ok
}

// IsFile reports whether frames with this command belong to a file transfer
// and should be handled away from chat traffic.
func (c Command) IsFile() bool {
    switch c {
    case CmdDownloadRequest, CmdFileStart, CmdFileData, CmdFileEnd, CmdFileAck:
        return true
    }
    return false
}

// Sequenced reports whether frames with this command carry a sequence number
// drawn from the sender's counter. Retransmit requests are control frames.
func (c Command) Sequenced() bool { return c != CmdRetransmitRequest }
