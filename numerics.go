package zeusircd2

// Numeric replies under local names for clarity at call sites. Handlers
// mix these with the xirc.RPL_* / xirc.ERR_* constants (xirc/numerics.go),
// which cover the ones gopkg.in/irc.v4 leaves out.
const (
	rplWelcome  = "001"
	rplYourHost = "002"
	rplCreated  = "003"
	rplMyInfo   = "004"
	rplISupport = "005"

	rplUModeIs = "221"

	rplLUserClient   = "251"
	rplLUserOp       = "252"
	rplLUserUnknown  = "253"
	rplLUserChannels = "254"
	rplLUserMe       = "255"

	rplAway        = "301"
	rplUserHost    = "302"
	rplIson        = "303"
	rplUnaway      = "305"
	rplNowAway     = "306"

	rplWhoisUser     = "311"
	rplWhoisServer   = "312"
	rplWhoisOperator = "313"
	rplWhoisIdle     = "317"
	rplEndOfWhois    = "318"
	rplWhoisChannels = "319"

	rplEndOfWho = "315"

	rplListStart = "321"
	rplList      = "322"
	rplListEnd   = "323"

	rplChannelModeIs = "324"
	rplNoTopic       = "331"
	rplTopic         = "332"

	rplInviting = "341"

	rplVersion = "351"

	rplWhoReply = "352"

	rplNamReply    = "353"
	rplEndOfNames  = "366"

	rplBanList     = "367"
	rplEndOfBanList = "368"

	rplWhoWasUser  = "314"
	rplEndOfWhoWas = "369"

	rplInfo      = "371"
	rplMotd      = "372"
	rplEndOfInfo = "374"
	rplMotdStart = "375"
	rplEndOfMotd = "376"

	rplYoureOper = "381"

	rplTime = "391"
	rplAdminMe    = "256"
	rplAdminLoc1  = "257"
	rplAdminLoc2  = "258"
	rplAdminEmail = "259"

	errNoSuchNick    = "401"
	errNoSuchChannel = "403"
	errCannotSendToChan = "404"
	errTooManyChannels  = "405"
	errWasNoSuchNick    = "406"
	errNoOrigin      = "409"
	errNoRecipient   = "411"
	errNoTextToSend  = "412"
	errUnknownCommand = "421"
	errNoMotd        = "422"
	errNoNicknameGiven = "431"
	errErroneousNickname = "432"
	errNicknameInUse  = "433"
	errUserNotInChannel = "441"
	errNotOnChannel  = "442"
	errUserOnChannel = "443"
	errNotRegistered = "451"
	errNeedMoreParams = "461"
	errAlreadyRegistered = "462"
	errPasswdMismatch = "464"
	errYouAreBannedCreep = "465"
	errKeySet        = "467"
	errChannelIsFull = "471"
	errUnknownMode   = "472"
	errInviteOnlyChan = "473"
	errBannedFromChan = "474"
	errBadChannelKey = "475"
	errBadChanMask   = "476"
	errNoPrivileges  = "481"
	errChanOpPrivsNeeded = "482"
	errUModeUnknownFlag = "501"
	errUsersDontMatch = "502"
)
